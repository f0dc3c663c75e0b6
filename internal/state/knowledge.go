package state

import (
	"fmt"
	"strings"
	"time"
)

// KnowledgeEntry is one stored piece of domain knowledge available to the
// retrieval subsystem.
type KnowledgeEntry struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Keywords  []string  `json:"keywords"`
	CreatedAt time.Time `json:"created_at"`
}

// AddKnowledge stores an entry. Keywords are normalized to lower case.
func (db *DB) AddKnowledge(topic, content string, keywords []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			normalized = append(normalized, k)
		}
	}

	_, err := db.conn.Exec(`
		INSERT INTO knowledge (topic, content, keywords, created_at)
		VALUES (?, ?, ?, ?)
	`, topic, content, strings.Join(normalized, " "), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add knowledge: %w", err)
	}
	return nil
}

// SearchKnowledge returns entries whose keyword list matches any of the
// given keywords. Ranking is the retriever's job; this is a raw candidate
// fetch.
func (db *DB) SearchKnowledge(keywords []string) ([]KnowledgeEntry, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	conditions := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		conditions = append(conditions, "keywords LIKE ?")
		args = append(args, "%"+k+"%")
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	rows, err := db.conn.Query(`
		SELECT id, topic, content, keywords, created_at FROM knowledge
		WHERE `+strings.Join(conditions, " OR ")+`
		ORDER BY created_at DESC
		LIMIT 50
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeEntry
	for rows.Next() {
		var (
			e         KnowledgeEntry
			kw        string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Topic, &e.Content, &kw, &createdAt); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		if kw != "" {
			e.Keywords = strings.Fields(kw)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
