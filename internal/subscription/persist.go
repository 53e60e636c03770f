package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"subwatch/internal/model"
)

type fileData struct {
	LatestIDs    []string                   `json:"latest_ids"`
	Destinations map[string]destinationData `json:"destinations"`
}

type destinationData struct {
	Subscriptions []subscriptionData `json:"subscriptions"`
	Blocks        []blockData        `json:"blocks"`
}

type subscriptionData struct {
	Query        string     `json:"query"`
	LatestUpdate *time.Time `json:"latest_update"`
	Paused       bool       `json:"paused"`
}

type blockData struct {
	Query string `json:"query"`
}

// Load reads the registry stored at path. A missing file yields an empty
// registry. Every stored query must parse.
func Load(path string) (*Registry, error) {
	r := NewRegistry(path)

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}

	for _, s := range data.LatestIDs {
		id, err := model.ParseSubmissionID(s)
		if err != nil {
			return nil, fmt.Errorf("decode latest ids: %w", err)
		}
		r.latestIDs = append(r.latestIDs, id)
	}

	for destKey, dd := range data.Destinations {
		dest, err := strconv.ParseInt(destKey, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode destination %q: %w", destKey, err)
		}
		for _, sd := range dd.Subscriptions {
			sub, err := New(sd.Query, dest)
			if err != nil {
				return nil, fmt.Errorf("destination %d: %w", dest, err)
			}
			sub.Paused = sd.Paused
			if sd.LatestUpdate != nil {
				sub.LatestUpdate = *sd.LatestUpdate
			}
			r.subs[sub.key()] = sub
		}
		for _, bd := range dd.Blocks {
			if _, err := r.parseBlock(bd.Query); err != nil {
				return nil, fmt.Errorf("destination %d: %w", dest, err)
			}
			set, ok := r.blocks[dest]
			if !ok {
				set = make(map[string]string)
				r.blocks[dest] = set
			}
			set[strings.ToLower(strings.TrimSpace(bd.Query))] = strings.TrimSpace(bd.Query)
		}
	}
	return r, nil
}

func (r *Registry) snapshot() fileData {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data := fileData{
		LatestIDs:    make([]string, 0, len(r.latestIDs)),
		Destinations: make(map[string]destinationData),
	}
	for _, id := range r.latestIDs {
		data.LatestIDs = append(data.LatestIDs, id.String())
	}

	dests := make(map[int64]*destinationData)
	get := func(dest int64) *destinationData {
		dd, ok := dests[dest]
		if !ok {
			dd = &destinationData{Subscriptions: []subscriptionData{}, Blocks: []blockData{}}
			dests[dest] = dd
		}
		return dd
	}
	for _, sub := range r.subs {
		sd := subscriptionData{Query: sub.Query, Paused: sub.Paused}
		if !sub.LatestUpdate.IsZero() {
			t := sub.LatestUpdate.UTC()
			sd.LatestUpdate = &t
		}
		dd := get(sub.Destination)
		dd.Subscriptions = append(dd.Subscriptions, sd)
	}
	for dest, set := range r.blocks {
		dd := get(dest)
		for _, raw := range set {
			dd.Blocks = append(dd.Blocks, blockData{Query: raw})
		}
	}

	for dest, dd := range dests {
		slices.SortFunc(dd.Subscriptions, func(a, b subscriptionData) int {
			return strings.Compare(a.Query, b.Query)
		})
		slices.SortFunc(dd.Blocks, func(a, b blockData) int {
			return strings.Compare(a.Query, b.Query)
		})
		data.Destinations[strconv.FormatInt(dest, 10)] = *dd
	}
	return data
}

// Save writes the registry to its file atomically.
func (r *Registry) Save() error {
	if r.path == "" {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	raw, err := json.MarshalIndent(r.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create subscriptions dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write subscriptions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync subscriptions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close subscriptions: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace subscriptions: %w", err)
	}
	return nil
}
