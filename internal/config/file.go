package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/schedule"
)

// File is the YAML configuration file:
//
//	schedules:
//	  - job_type: purge_sessions
//	    cron: "0 3 * * *"
//	    timezone: Europe/Berlin
//	    queue: maintenance
//	    args:
//	      older_than_days: 30
//	queues:
//	  - name: mail
//	    max_concurrency: 4
//	    rate_limit: 20
//	    rate_burst: 5
type File struct {
	Schedules []ScheduleSpec `yaml:"schedules"`
	Queues    []QueueSpec    `yaml:"queues"`
}

// ScheduleSpec is one static recurring job.
type ScheduleSpec struct {
	JobType  string         `yaml:"job_type"`
	Cron     string         `yaml:"cron"`
	Timezone string         `yaml:"timezone"`
	Queue    string         `yaml:"queue"`
	Args     map[string]any `yaml:"args"`
}

// QueueSpec sets limits for one queue.
type QueueSpec struct {
	Name           string  `yaml:"name"`
	MaxConcurrency int     `yaml:"max_concurrency"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

// LoadFile reads and decodes a YAML configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes YAML configuration. Unknown keys are rejected.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	return &f, nil
}

// Entries parses the static schedules.
func (f *File) Entries() ([]cron.Entry, error) {
	entries := make([]cron.Entry, 0, len(f.Schedules))
	for i, s := range f.Schedules {
		if s.JobType == "" {
			return nil, fmt.Errorf("schedules[%d]: job_type is required", i)
		}

		loc := time.UTC
		if s.Timezone != "" {
			l, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return nil, fmt.Errorf("schedules[%d] %s: %w", i, s.JobType, err)
			}
			loc = l
		}
		sched, err := schedule.ParseInLocation(s.Cron, loc)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d] %s: %w", i, s.JobType, err)
		}

		e := cron.Entry{JobType: s.JobType, Schedule: sched, Queue: s.Queue}
		if s.Args != nil {
			if e.Args, err = json.Marshal(s.Args); err != nil {
				return nil, fmt.Errorf("schedules[%d] %s: encode args: %w", i, s.JobType, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// QueueConfigs returns the queue limits.
func (f *File) QueueConfigs() []queue.Config {
	out := make([]queue.Config, 0, len(f.Queues))
	for _, q := range f.Queues {
		out = append(out, queue.Config{
			Name:           q.Name,
			MaxConcurrency: q.MaxConcurrency,
			RateLimit:      q.RateLimit,
			RateBurst:      q.RateBurst,
		})
	}
	return out
}
