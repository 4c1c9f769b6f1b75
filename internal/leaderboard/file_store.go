package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type leaderboardFile struct {
	SavedAt time.Time `json:"saved_at"`
	Rows    []Row     `json:"rows"`
}

// FileStore persists the leaderboard as zstd-compressed JSON. The whole table is
// rewritten on every mutation through a temp file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
	rows map[string]Row

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileStore opens (or prepares) the leaderboard file at path.
func NewFileStore(path string, clock func() time.Time) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("leaderboard file path must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	store := &FileStore{
		path:    path,
		now:     clock,
		rows:    make(map[string]Row),
		encoder: encoder,
		decoder: decoder,
	}
	if err := store.load(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress leaderboard: %w", err)
	}
	var file leaderboardFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse leaderboard: %w", err)
	}
	for _, row := range file.Rows {
		if row.PlayerID != "" {
			s.rows[row.PlayerID] = row
		}
	}
	return nil
}

// UpsertLeaderboard implements Store.
func (s *FileStore) UpsertLeaderboard(ctx context.Context, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if row.PlayerID != "" {
			s.rows[row.PlayerID] = row
		}
	}
	return s.persistLocked()
}

// DeletePlayer implements Store.
func (s *FileStore) DeletePlayer(ctx context.Context, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[playerID]; !ok {
		return nil
	}
	delete(s.rows, playerID)
	return s.persistLocked()
}

// Top implements Reader.
func (s *FileStore) Top(ctx context.Context, limit int) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rows := make([]Row, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	s.mu.Unlock()
	return rankRows(rows, limit), nil
}

// Close releases the compression codecs.
func (s *FileStore) Close() error {
	if s == nil {
		return nil
	}
	s.decoder.Close()
	return s.encoder.Close()
}

func (s *FileStore) persistLocked() error {
	//1.- Serialise rows in rank order so the file is readable after decompression.
	rows := make([]Row, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	data, err := json.Marshal(leaderboardFile{SavedAt: s.now().UTC(), Rows: rankRows(rows, 0)})
	if err != nil {
		return err
	}
	//2.- Write beside the target and rename so readers never see a torn file.
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, s.encoder.EncodeAll(data, nil), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
