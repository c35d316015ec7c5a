package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oi-sh/oi/internal/util"
)

// Clock provides the current time. Injected so tests control timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Store persists projects as one JSON file per id under a run directory.
type Store struct {
	dir   string
	clock Clock
	newID func() string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the store's clock.
func WithClock(c Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithIDGenerator overrides the store's project id generator.
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{
		dir:   dir,
		clock: systemClock{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultDir returns the per-user project directory (~/.oi/projects).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".oi", "projects"), nil
}

// Create allocates a new project in the planning phase with all sub-states
// at their pending defaults, and persists it.
func (s *Store) Create(goal string, repo Repo, plannerModel string) (*Project, error) {
	now := s.clock.Now().UTC()
	p := &Project{
		ID:        s.newID(),
		CreatedAt: now,
		UpdatedAt: now,
		Goal:      goal,
		Repo:      repo,
		Phase:     PhasePlanning,
		Planning: PlanningState{
			Model:  plannerModel,
			Status: SubPending,
		},
		Tasks:       make(map[string]*TaskExecution),
		Integration: IntegrationState{Status: SubPending},
	}
	if err := s.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save stamps UpdatedAt and writes the project atomically.
func (s *Store) Save(p *Project) error {
	p.UpdatedAt = s.clock.Now().UTC()
	if err := util.AtomicWriteJSON(s.path(p.ID), p, 0644); err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// Load reads a project by id. A missing or unparsable file is reported as
// absence (nil, nil), not as an error.
func (s *Store) Load(id string) (*Project, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read project %s: %w", id, err)
	}

	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil
	}
	return &p, nil
}

// Summary is a listing entry for a stored project.
type Summary struct {
	ID        string    `json:"id"`
	Goal      string    `json:"goal"`
	Phase     Phase     `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List scans the run directory and returns summaries sorted by UpdatedAt
// descending. Unreadable or partial files are skipped silently.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read project directory: %w", err)
	}

	var summaries []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var p Project
		if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
			continue
		}
		summaries = append(summaries, Summary{
			ID:        p.ID,
			Goal:      p.Goal,
			Phase:     p.Phase,
			UpdatedAt: p.UpdatedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
