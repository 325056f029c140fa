package catalog

import (
	"context"
	"fmt"
	"sort"
)

// Snapshot is an immutable in-memory catalog. It implements Catalog and is
// safe for concurrent readers once built.
type Snapshot struct {
	processes map[string]Process
	stages    map[string]Stage
	// published indexes the published process per (product, type).
	published map[publishedKey]string
}

type publishedKey struct {
	productID   string
	processType ProcessType
}

// NewSnapshot builds a snapshot from validated process definitions. Stage
// ProcessID backrefs are filled in and stages are sorted by order.
func NewSnapshot(processes []Process) (*Snapshot, error) {
	snap := &Snapshot{
		processes: make(map[string]Process, len(processes)),
		stages:    make(map[string]Stage),
		published: make(map[publishedKey]string),
	}
	for _, proc := range processes {
		for i := range proc.Stages {
			if proc.Stages[i].ProcessID == "" {
				proc.Stages[i].ProcessID = proc.ID
			}
		}
		if err := Validate(proc); err != nil {
			return nil, err
		}
		if _, dup := snap.processes[proc.ID]; dup {
			return nil, fmt.Errorf("duplicate process id %s", proc.ID)
		}
		sorted := append([]Stage(nil), proc.Stages...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
		proc.Stages = sorted
		snap.processes[proc.ID] = proc

		for _, stage := range proc.Stages {
			if _, dup := snap.stages[stage.ID]; dup {
				return nil, fmt.Errorf("stage id %s appears in more than one process", stage.ID)
			}
			snap.stages[stage.ID] = stage
		}

		if proc.Status == StatusPublished {
			key := publishedKey{productID: proc.ProductID, processType: proc.Type}
			if other, dup := snap.published[key]; dup {
				return nil, fmt.Errorf("processes %s and %s are both published for product %s type %s",
					other, proc.ID, proc.ProductID, proc.Type)
			}
			snap.published[key] = proc.ID
		}
	}
	return snap, nil
}

// Len returns the number of processes in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.processes)
}

// GetProcess returns the process with the given id.
func (s *Snapshot) GetProcess(_ context.Context, processID string) (Process, error) {
	proc, ok := s.processes[processID]
	if !ok {
		return Process{}, fmt.Errorf("process %s: %w", processID, ErrNotFound)
	}
	return proc, nil
}

// GetStage returns the stage with the given id.
func (s *Snapshot) GetStage(_ context.Context, stageID string) (Stage, error) {
	stage, ok := s.stages[stageID]
	if !ok {
		return Stage{}, fmt.Errorf("stage %s: %w", stageID, ErrNotFound)
	}
	return stage, nil
}

// ListStages returns a process's stages ordered by stage order.
func (s *Snapshot) ListStages(_ context.Context, processID string) ([]Stage, error) {
	proc, ok := s.processes[processID]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", processID, ErrNotFound)
	}
	return append([]Stage(nil), proc.Stages...), nil
}

// PublishedProcess resolves the published process of a type for a product.
func (s *Snapshot) PublishedProcess(_ context.Context, productID string, processType ProcessType) (Process, error) {
	id, ok := s.published[publishedKey{productID: productID, processType: processType}]
	if !ok {
		return Process{}, fmt.Errorf("published %s process for product %s: %w", processType, productID, ErrNotFound)
	}
	return s.processes[id], nil
}
