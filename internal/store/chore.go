package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/taskie/internal/model"
)

type ChoreStore struct {
	db *sql.DB
}

func NewChoreStore(db *sql.DB) *ChoreStore {
	return &ChoreStore{db: db}
}

func scanChore(scanner interface{ Scan(...any) error }) (*model.Chore, error) {
	var c model.Chore
	var acceptorID sql.NullInt64
	var finishedAt sql.NullTime

	err := scanner.Scan(
		&c.ID, &c.HouseholdID, &c.RequestorID, &acceptorID, &finishedAt,
		&c.Name, &c.Description, &c.RewardAmount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if acceptorID.Valid {
		c.AcceptorID = &acceptorID.Int64
	}
	if finishedAt.Valid {
		c.FinishedAt = &finishedAt.Time
	}
	c.ImageURLs = []string{}
	return &c, nil
}

const choreCols = `id, household_id, requestor_id, acceptor_id, finished_at, name, description, reward_amount, created_at, updated_at`

func (s *ChoreStore) Create(householdID, requestorID int64, name, description string, reward decimal.Decimal) (*model.Chore, error) {
	result, err := s.db.Exec(
		`INSERT INTO chores (household_id, requestor_id, name, description, reward_amount) VALUES (?, ?, ?, ?, ?)`,
		householdID, requestorID, name, description, reward.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert chore: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ChoreStore) GetByID(id int64) (*model.Chore, error) {
	row := s.db.QueryRow(`SELECT `+choreCols+` FROM chores WHERE id = ?`, id)
	c, err := scanChore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chore: %w", err)
	}

	chores := []model.Chore{*c}
	if err := s.loadImages(chores); err != nil {
		return nil, err
	}
	return &chores[0], nil
}

// ListByHousehold returns the household's chores, newest first.
func (s *ChoreStore) ListByHousehold(householdID int64) ([]model.Chore, error) {
	return s.list(`WHERE household_id = ?`, householdID)
}

// ListByRequestor returns chores the user posted in the household.
func (s *ChoreStore) ListByRequestor(householdID, userID int64) ([]model.Chore, error) {
	return s.list(`WHERE household_id = ? AND requestor_id = ?`, householdID, userID)
}

// ListByAcceptor returns chores the user has claimed in the household.
func (s *ChoreStore) ListByAcceptor(householdID, userID int64) ([]model.Chore, error) {
	return s.list(`WHERE household_id = ? AND acceptor_id = ?`, householdID, userID)
}

func (s *ChoreStore) list(where string, args ...any) ([]model.Chore, error) {
	rows, err := s.db.Query(
		`SELECT `+choreCols+` FROM chores `+where+` ORDER BY created_at DESC, id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list chores: %w", err)
	}
	defer rows.Close()

	var chores []model.Chore
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chore: %w", err)
		}
		chores = append(chores, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chores: %w", err)
	}
	rows.Close()

	if err := s.loadImages(chores); err != nil {
		return nil, err
	}
	return chores, nil
}

// --- Lifecycle transitions ---
//
// Each transition is a single guarded UPDATE so concurrent commands cannot
// break the chore invariants. Zero affected rows means the chore moved on.

// Accept claims an open chore for acceptorID. The requestor cannot claim their own chore.
func (s *ChoreStore) Accept(id, acceptorID int64) (*model.Chore, error) {
	return s.transition("accept chore",
		`UPDATE chores SET acceptor_id = ?
		 WHERE id = ? AND acceptor_id IS NULL AND finished_at IS NULL AND requestor_id != ?`,
		id, acceptorID, id, acceptorID,
	)
}

// Release hands an accepted chore back to the open pool.
func (s *ChoreStore) Release(id, acceptorID int64) (*model.Chore, error) {
	return s.transition("release chore",
		`UPDATE chores SET acceptor_id = NULL
		 WHERE id = ? AND acceptor_id = ? AND finished_at IS NULL`,
		id, id, acceptorID,
	)
}

// Finish marks an accepted chore done. Finished chores are terminal.
func (s *ChoreStore) Finish(id, acceptorID int64, at time.Time) (*model.Chore, error) {
	return s.transition("finish chore",
		`UPDATE chores SET finished_at = ?
		 WHERE id = ? AND acceptor_id = ? AND finished_at IS NULL`,
		id, at.UTC(), id, acceptorID,
	)
}

func (s *ChoreStore) transition(op, query string, id int64, args ...any) (*model.Chore, error) {
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return nil, ErrInvalidTransition
	}
	return s.GetByID(id)
}

// Withdraw removes an unfinished chore on behalf of its requestor, whether or
// not it has been accepted.
func (s *ChoreStore) Withdraw(id, requestorID int64) error {
	result, err := s.db.Exec(
		`DELETE FROM chores WHERE id = ? AND requestor_id = ? AND finished_at IS NULL`,
		id, requestorID,
	)
	if err != nil {
		return fmt.Errorf("withdraw chore: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("withdraw chore: rows affected: %w", err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// --- Image methods ---

func (s *ChoreStore) AddImage(choreID int64, objectKey, url string) (*model.ChoreImage, error) {
	result, err := s.db.Exec(
		`INSERT INTO chore_images (chore_id, object_key, url) VALUES (?, ?, ?)`,
		choreID, objectKey, url,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chore image: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	var img model.ChoreImage
	err = s.db.QueryRow(
		`SELECT id, chore_id, object_key, url, created_at FROM chore_images WHERE id = ?`, id,
	).Scan(&img.ID, &img.ChoreID, &img.ObjectKey, &img.URL, &img.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get chore image: %w", err)
	}
	return &img, nil
}

// ImageKeys returns the object keys of every image attached to the chore or
// to its chat messages. These rows cascade away when the chore is deleted.
func (s *ChoreStore) ImageKeys(choreID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT object_key FROM chore_images WHERE chore_id = ?
		 UNION ALL
		 SELECT i.object_key FROM chat_message_images i
		 JOIN chat_messages m ON m.id = i.chat_message_id
		 WHERE m.chore_id = ?`,
		choreID, choreID,
	)
	if err != nil {
		return nil, fmt.Errorf("list image keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan image key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// loadImages fills ImageURLs for each chore in place, in upload order.
func (s *ChoreStore) loadImages(chores []model.Chore) error {
	if len(chores) == 0 {
		return nil
	}

	index := make(map[int64]int, len(chores))
	placeholders := make([]string, len(chores))
	args := make([]any, len(chores))
	for i, c := range chores {
		index[c.ID] = i
		placeholders[i] = "?"
		args[i] = c.ID
	}

	rows, err := s.db.Query(
		`SELECT chore_id, url FROM chore_images WHERE chore_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("list chore images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var choreID int64
		var url string
		if err := rows.Scan(&choreID, &url); err != nil {
			return fmt.Errorf("scan chore image: %w", err)
		}
		i := index[choreID]
		chores[i].ImageURLs = append(chores[i].ImageURLs, url)
	}
	return rows.Err()
}
