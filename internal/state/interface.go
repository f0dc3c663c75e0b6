package state

import (
	"io"

	"github.com/maestro-ai/maestro/pkg/models"
)

// RunStore handles run-record persistence.
type RunStore interface {
	CreateRun(r *models.Run) error
	UpdateRunStatus(id string, status models.RunStatus) error
	GetRun(id string) (*models.Run, error)
	ListRuns() ([]models.Run, error)
}

// EventStore handles event-journal persistence.
type EventStore interface {
	AppendEvent(runID string, ev models.Event) error
	ListEvents(runID string, fromSeq uint64) ([]models.Event, error)
}

// KnowledgeStore handles the knowledge base backing retrieval.
type KnowledgeStore interface {
	AddKnowledge(topic, content string, keywords []string) error
	SearchKnowledge(keywords []string) ([]KnowledgeEntry, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// Store is the full persistence interface. It lets the run manager work
// with any backend without depending on the concrete SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	RunStore
	EventStore
	KnowledgeStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store          = (*DB)(nil)
	_ Migrator       = (*DB)(nil)
	_ RunStore       = (*DB)(nil)
	_ EventStore     = (*DB)(nil)
	_ KnowledgeStore = (*DB)(nil)
)
