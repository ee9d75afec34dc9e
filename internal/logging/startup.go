package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunLogger collects a run's identity, configuration, and feature flags,
// then emits a single structured zerolog event summarising how the run was
// set up.
type RunLogger struct {
	tool       string
	runID      string
	commitHash string
	buildTime  string
	configFile string

	inputs   map[string]string
	config   map[string]string
	features map[string]bool
	counts   map[string]int
}

// NewRunLogger creates a RunLogger for the given tool name
// (e.g. "split-clips").
func NewRunLogger(tool, runID string) *RunLogger {
	return &RunLogger{
		tool:     tool,
		runID:    runID,
		inputs:   make(map[string]string),
		config:   make(map[string]string),
		features: make(map[string]bool),
		counts:   make(map[string]int),
	}
}

// CommitHash sets the git commit hash baked into the binary at build time.
func (r *RunLogger) CommitHash(hash string) *RunLogger {
	r.commitHash = hash
	return r
}

// BuildTime sets the UTC build timestamp baked into the binary at build time.
func (r *RunLogger) BuildTime(t string) *RunLogger {
	r.buildTime = t
	return r
}

// ConfigFile records the config file that was read, if any.
func (r *RunLogger) ConfigFile(path string) *RunLogger {
	r.configFile = path
	return r
}

// Input registers a directory, file, or bucket the run reads or writes.
func (r *RunLogger) Input(label, value string) *RunLogger {
	if value != "" {
		r.inputs[label] = value
	}
	return r
}

// Feature registers a boolean feature flag (e.g. "upload", "compressManifest").
func (r *RunLogger) Feature(name string, enabled bool) *RunLogger {
	r.features[name] = enabled
	return r
}

// Config registers a non-sensitive configuration key-value pair.
func (r *RunLogger) Config(key, value string) *RunLogger {
	r.config[key] = value
	return r
}

// Count registers a size known at startup, such as the fragment count.
func (r *RunLogger) Count(name string, n int) *RunLogger {
	r.counts[name] = n
	return r
}

// Log emits the summary as one INFO event.
func (r *RunLogger) Log() {
	r.Event(log.Info()).Msg("Run configured")
}

// Event attaches the collected fields to evt.
func (r *RunLogger) Event(evt *zerolog.Event) *zerolog.Event {
	host, _ := os.Hostname()
	identity := zerolog.Dict().
		Str("tool", r.tool).
		Str("runId", r.runID).
		Str("host", host).
		Int("pid", os.Getpid()).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", zerolog.GlobalLevel().String())
	if r.commitHash != "" {
		identity = identity.Str("commitHash", r.commitHash)
	}
	if r.buildTime != "" {
		identity = identity.Str("buildTime", r.buildTime)
	}
	if r.configFile != "" {
		identity = identity.Str("configFile", r.configFile)
	}
	evt = evt.Dict("run", identity).Time("startedAt", time.Now().UTC())

	if len(r.inputs) > 0 {
		evt = evt.Dict("inputs", dictFromMap(r.inputs))
	}
	if len(r.config) > 0 {
		evt = evt.Dict("config", dictFromMap(r.config))
	}
	if len(r.features) > 0 {
		d := zerolog.Dict()
		for k, v := range r.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	if len(r.counts) > 0 {
		d := zerolog.Dict()
		for k, v := range r.counts {
			d = d.Int(k, v)
		}
		evt = evt.Dict("counts", d)
	}
	return evt
}

// dictFromMap converts a map[string]string into a zerolog.Event (Dict).
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
