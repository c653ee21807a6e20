package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB checkpoints thread messages in a BoltDB file. Every thread keeps its messages in its own
// bucket, keyed by an increasing sequence so a cursor walk returns them in insertion order.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (creating if needed) the database file at path with 0600 permissions.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(threadID string) []byte {
	return []byte(fmt.Sprintf("thread-%s", threadID))
}

// Messages returns the messages of a thread in their stored order. An unknown thread has no messages.
func (b BoltDB) Messages(_ context.Context, threadID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(messageBucketName(threadID))
		if bk == nil {
			return nil
		}

		return bk.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to a thread, creating its bucket on the first message. The stored
// message id is prefixed with the bucket sequence and returned.
func (b BoltDB) AddMessage(_ context.Context, threadID string, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(messageBucketName(threadID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		seq, err := bk.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%020d-%s", seq, message.ID)
		message.ID = newID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bk.Put([]byte(newID), v)
	})
	if err != nil {
		return "", err
	}

	return newID, nil
}

// UpdateMessage overwrites a stored message of a thread. Updates for a thread that doesn't exist are
// silently ignored.
func (b BoltDB) UpdateMessage(_ context.Context, threadID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(messageBucketName(threadID))
		if bk == nil {
			return nil
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bk.Put([]byte(message.ID), v)
	})
}
