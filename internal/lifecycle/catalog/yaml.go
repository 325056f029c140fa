package catalog

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlFile mirrors the on-disk catalog definition format.
type yamlFile struct {
	Processes []yamlProcess `yaml:"processes"`
}

type yamlProcess struct {
	ID            string      `yaml:"id"`
	ProductID     string      `yaml:"product_id"`
	Type          string      `yaml:"type"`
	Version       int         `yaml:"version"`
	Status        string      `yaml:"status"`
	AdvancePolicy string      `yaml:"advance_policy"`
	Stages        []yamlStage `yaml:"stages"`
}

type yamlStage struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Slug         string `yaml:"slug"`
	Order        int    `yaml:"order"`
	SLADays      *int   `yaml:"sla_days"`
	Terminal     bool   `yaml:"terminal"`
	TerminalType string `yaml:"terminal_type"`
}

// LoadFile reads a YAML catalog definition file into a Snapshot.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()
	snap, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return snap, nil
}

// Load reads a YAML catalog definition into a Snapshot.
func Load(r io.Reader) (*Snapshot, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file yamlFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}
	if len(file.Processes) == 0 {
		return nil, fmt.Errorf("catalog defines no processes")
	}

	processes := make([]Process, 0, len(file.Processes))
	for _, yp := range file.Processes {
		status := Status(yp.Status)
		if yp.Status == "" {
			status = StatusPublished
		}
		policy := AdvancePolicy(yp.AdvancePolicy)
		if yp.AdvancePolicy == "" {
			policy = AdvanceFree
		}
		proc := Process{
			ID:            yp.ID,
			ProductID:     yp.ProductID,
			Type:          ProcessType(yp.Type),
			Version:       yp.Version,
			Status:        status,
			AdvancePolicy: policy,
		}
		for _, ys := range yp.Stages {
			proc.Stages = append(proc.Stages, Stage{
				ID:           ys.ID,
				ProcessID:    yp.ID,
				Name:         ys.Name,
				Slug:         ys.Slug,
				Order:        ys.Order,
				SLADays:      ys.SLADays,
				IsTerminal:   ys.Terminal,
				TerminalType: TerminalType(ys.TerminalType),
			})
		}
		processes = append(processes, proc)
	}
	return NewSnapshot(processes)
}
