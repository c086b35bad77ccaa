package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vincentbai/browsetrace/internal/models"
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

func ParseFormat(raw string) (Format, error) {
	switch format := Format(strings.ToLower(strings.TrimSpace(raw))); format {
	case FormatJSON, FormatMsgpack:
		return format, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown session format: %q", raw)
	}
}

func (f Format) ext() string {
	return "." + string(f)
}

// FileStore keeps each session as <dir>/<id>.<format> next to a <dir>/<id>.txt
// summary.
type FileStore struct {
	Dir    string
	Format Format
}

func NewFileStore(dir string, format Format) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if format == "" {
		format = FormatJSON
	}
	return &FileStore{Dir: dir, Format: format}, nil
}

func (s *FileStore) Path(id string) string {
	return filepath.Join(s.Dir, id+s.Format.ext())
}

func (s *FileStore) SummaryPath(id string) string {
	return filepath.Join(s.Dir, id+".txt")
}

func (s *FileStore) Save(ctx context.Context, id string, log *models.Log) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(s.Format, log)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", id, err)
	}
	if err := writeFileAtomic(s.Path(id), data); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) SaveSummary(ctx context.Context, id string, log *models.Log) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileAtomic(s.SummaryPath(id), []byte(RenderSummary(log))); err != nil {
		return fmt.Errorf("failed to save summary %s: %w", id, err)
	}
	return nil
}

// Summary returns the saved text summary of a session.
func (s *FileStore) Summary(ctx context.Context, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.SummaryPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read summary %s: %w", id, err)
	}
	return string(data), nil
}

// Load reads the session in the configured format, falling back to the other one.
func (s *FileStore) Load(ctx context.Context, id string) (*models.Log, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	formats := []Format{s.Format, FormatJSON, FormatMsgpack}
	for _, format := range formats {
		data, err := os.ReadFile(filepath.Join(s.Dir, id+format.ext()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read session %s: %w", id, err)
		}
		log, err := decode(format, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
		}
		if log.ID == "" {
			log.ID = id
		}
		return log, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func encode(format Format, log *models.Log) ([]byte, error) {
	switch format {
	case FormatMsgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(log); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(log, "", "  ")
	}
}

func decode(format Format, data []byte) (*models.Log, error) {
	var log models.Log
	switch format {
	case FormatMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&log); err != nil {
			return nil, err
		}
		if log.Events == nil {
			log.Events = make([]models.Event, 0)
		}
	default:
		if err := json.Unmarshal(data, &log); err != nil {
			return nil, err
		}
	}
	return &log, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ Store = (*FileStore)(nil)
