package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/taskie/internal/model"
)

type ChatStore struct {
	db *sql.DB
}

func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

func scanChatMessage(scanner interface{ Scan(...any) error }) (*model.ChatMessage, error) {
	var m model.ChatMessage
	err := scanner.Scan(&m.ID, &m.ChoreID, &m.SenderID, &m.Body, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ImageURLs = []string{}
	return &m, nil
}

const chatMessageCols = `id, chore_id, sender_id, body, created_at`

// Create stores a message and its attached images in one transaction.
func (s *ChatStore) Create(choreID, senderID int64, body string, images ...model.StoredImage) (*model.ChatMessage, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO chat_messages (chore_id, sender_id, body) VALUES (?, ?, ?)`,
		choreID, senderID, body,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for _, img := range images {
		_, err := tx.Exec(
			`INSERT INTO chat_message_images (chat_message_id, object_key, url) VALUES (?, ?, ?)`,
			id, img.ObjectKey, img.URL,
		)
		if err != nil {
			return nil, fmt.Errorf("insert chat message image: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+chatMessageCols+` FROM chat_messages WHERE id = ?`, id)
	m, err := scanChatMessage(row)
	if err != nil {
		return nil, fmt.Errorf("get chat message: %w", err)
	}
	msgs := []model.ChatMessage{*m}
	if err := s.loadImages(msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// ListByChore returns a chore's messages oldest first.
func (s *ChatStore) ListByChore(choreID int64) ([]model.ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT `+chatMessageCols+` FROM chat_messages WHERE chore_id = ? ORDER BY created_at ASC, id ASC`,
		choreID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.ChatMessage
	for rows.Next() {
		m, err := scanChatMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	rows.Close()

	if err := s.loadImages(msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *ChatStore) loadImages(msgs []model.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	index := make(map[int64]int, len(msgs))
	placeholders := make([]string, len(msgs))
	args := make([]any, len(msgs))
	for i, m := range msgs {
		index[m.ID] = i
		placeholders[i] = "?"
		args[i] = m.ID
	}

	rows, err := s.db.Query(
		`SELECT chat_message_id, url FROM chat_message_images
		 WHERE chat_message_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("list chat message images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID int64
		var url string
		if err := rows.Scan(&messageID, &url); err != nil {
			return fmt.Errorf("scan chat message image: %w", err)
		}
		i := index[messageID]
		msgs[i].ImageURLs = append(msgs[i].ImageURLs, url)
	}
	return rows.Err()
}
