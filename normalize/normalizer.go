// Package normalize converts decoded wire records into canonical
// core.PipelineEvent values.
//
// The backend is loosely typed: field names vary between versions and
// artifacts may sit at the top level or under an agent specific object. The
// Normalizer checks an explicit, ordered list of locations for every field
// and prefers the first hit. Records that cannot be interpreted yield a
// *core.ParseFailure; Normalize never panics.
package normalize

import (
	"fmt"
	"path"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/logging"
)

// Options configures a Normalizer. The key lists are searched in order.
type Options struct {
	// LenientJSON repairs syntactically broken records before giving up.
	LenientJSON bool

	AgentKeys       []string
	StatusKeys      []string
	TitleKeys       []string
	DescriptionKeys []string
	MessageKeys     []string
	FragmentKeys    []string
	ExecTimeKeys    []string
	ErrorKeys       []string
	HitlKeys        []string
	IterationKeys   []string
	MaxIterKeys     []string
	FinalKeys       []string
	// ArtifactContainers are objects searched for an "artifacts" array after
	// the top level and the agent specific object.
	ArtifactContainers []string

	Logger logging.Logger
}

// DefaultOptions returns the lookup order used by the backend today.
func DefaultOptions() Options {
	return Options{
		AgentKeys:          []string{"agent", "agent_id", "agentId", "node_id", "node"},
		StatusKeys:         []string{"status", "state"},
		TitleKeys:          []string{"title", "display_title", "displayTitle", "name"},
		DescriptionKeys:    []string{"description"},
		MessageKeys:        []string{"message", "msg"},
		FragmentKeys:       []string{"stream_chunk", "chunk", "delta", "token"},
		ExecTimeKeys:       []string{"execution_time", "execution_time_seconds", "executionTime", "duration"},
		ErrorKeys:          []string{"error", "error_message"},
		HitlKeys:           []string{"hitl_request", "hitl"},
		IterationKeys:      []string{"iteration", "refinement_iteration", "refinementIteration"},
		MaxIterKeys:        []string{"max_iterations", "max_refinement_iterations", "maxRefinementIterations"},
		FinalKeys:          []string{"is_final", "isFinal", "final"},
		ArtifactContainers: []string{"data", "result"},
	}
}

// Normalizer maps records onto core.PipelineEvent.
type Normalizer struct {
	opts   Options
	logger logging.Logger
}

// New creates a Normalizer.
func New(optFns ...func(o *Options)) *Normalizer {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Normalizer{opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Normalize parses one record. The returned error, if any, is a
// *core.ParseFailure.
func (n *Normalizer) Normalize(raw string) (ev core.PipelineEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev = core.PipelineEvent{}
			err = &core.ParseFailure{Record: raw, Reason: "panic during normalization", Err: fmt.Errorf("%v", r)}
		}
	}()

	text := strings.TrimSpace(raw)
	if text == "" {
		return core.PipelineEvent{}, &core.ParseFailure{Record: raw, Reason: "empty record"}
	}
	if !gjson.Valid(text) {
		repaired, ok := n.repair(text)
		if !ok {
			return core.PipelineEvent{}, &core.ParseFailure{Record: raw, Reason: "invalid json"}
		}
		text = repaired
	}

	root := gjson.Parse(text)
	if !root.IsObject() {
		return core.PipelineEvent{}, &core.ParseFailure{Record: raw, Reason: "record is not an object"}
	}

	obj := n.unwrap(root)

	agentID, ok := firstString(obj, n.opts.AgentKeys)
	if !ok {
		return core.PipelineEvent{}, &core.ParseFailure{Record: raw, Reason: "missing agent id"}
	}
	statusText, ok := firstString(obj, n.opts.StatusKeys)
	if !ok {
		return core.PipelineEvent{}, &core.ParseFailure{Record: raw, Reason: "missing status"}
	}
	status, known := core.ParseLifecycleStatus(statusText)
	if !known {
		n.logger.Debug("unknown lifecycle status", "agent", agentID, "status", string(status))
	}

	ev = core.PipelineEvent{AgentID: agentID, Status: status}
	ev.DisplayTitle = optString(obj, n.opts.TitleKeys)
	ev.Description = optString(obj, n.opts.DescriptionKeys)
	ev.Message = optString(obj, n.opts.MessageKeys)
	ev.StreamingFragment = optRawString(obj, n.opts.FragmentKeys)
	ev.ExecutionTimeSeconds = optFloat(obj, n.opts.ExecTimeKeys)
	ev.Error = n.errorText(obj)
	ev.RefinementIteration = optInt(obj, n.opts.IterationKeys)
	ev.MaxRefinementIterations = optInt(obj, n.opts.MaxIterKeys)
	ev.IsFinal = optBool(obj, n.opts.FinalKeys)

	if arr, ok := n.locateArtifacts(obj, agentID); ok {
		ev.Artifacts = n.parseArtifacts(arr, agentID)
	}

	if hr, ok := first(obj, n.opts.HitlKeys); ok && hr.IsObject() {
		req, err := parseHitlRequest(hr)
		if err != nil {
			// the rest of the record still applies
			n.logger.Debug("ignoring malformed hitl request", "agent", agentID, "error", err.Error())
		} else {
			ev.HitlRequest = req
		}
	}

	return ev, nil
}

func (n *Normalizer) repair(text string) (string, bool) {
	if !n.opts.LenientJSON {
		return "", false
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil || !gjson.Valid(repaired) {
		return "", false
	}
	n.logger.Debug("repaired malformed record", "before", len(text), "after", len(repaired))
	return repaired, true
}

// unwrap returns the event object of an {"event": ..., "data": {...}}
// envelope, or root itself when root already names an agent.
func (n *Normalizer) unwrap(root gjson.Result) gjson.Result {
	if _, ok := firstString(root, n.opts.AgentKeys); ok {
		return root
	}
	if data := root.Get("data"); data.IsObject() {
		if _, ok := firstString(data, n.opts.AgentKeys); ok {
			return data
		}
	}
	return root
}

func (n *Normalizer) errorText(obj gjson.Result) *string {
	r, ok := first(obj, n.opts.ErrorKeys)
	if !ok {
		return nil
	}
	if r.IsObject() {
		if msg, ok := firstString(r, []string{"message", "detail", "error"}); ok {
			return &msg
		}
		raw := r.Raw
		return &raw
	}
	s := r.String()
	if s == "" {
		return nil
	}
	return &s
}

// locateArtifacts searches, in order: the top level, the object named after
// the agent, then each configured container. The first present array wins.
func (n *Normalizer) locateArtifacts(obj gjson.Result, agentID string) (gjson.Result, bool) {
	if r := obj.Get("artifacts"); r.IsArray() {
		return r, true
	}
	if sub, ok := childByKey(obj, agentID); ok && sub.IsObject() {
		if r := sub.Get("artifacts"); r.IsArray() {
			return r, true
		}
	}
	for _, c := range n.opts.ArtifactContainers {
		if sub := obj.Get(c); sub.IsObject() {
			if r := sub.Get("artifacts"); r.IsArray() {
				return r, true
			}
		}
	}
	return gjson.Result{}, false
}

func (n *Normalizer) parseArtifacts(arr gjson.Result, agentID string) []core.ArtifactRecord {
	out := []core.ArtifactRecord{}
	arr.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			n.logger.Debug("skipping non-object artifact", "agent", agentID)
			return true
		}
		rec, ok := parseArtifact(item)
		if !ok {
			n.logger.Debug("skipping artifact without filename", "agent", agentID)
			return true
		}
		out = append(out, rec)
		return true
	})
	return out
}

func parseArtifact(item gjson.Result) (core.ArtifactRecord, bool) {
	filename, ok := firstString(item, []string{"filename", "file_name", "name", "path"})
	if !ok {
		return core.ArtifactRecord{}, false
	}
	rec := core.ArtifactRecord{Filename: filename, Action: core.ArtifactCreated}
	if lang, ok := firstString(item, []string{"language", "lang"}); ok {
		rec.Language = lang
	} else {
		rec.Language = languageFor(filename)
	}
	if c, ok := first(item, []string{"content", "code"}); ok {
		rec.Content = c.String()
	}
	if s, ok := first(item, []string{"saved"}); ok {
		rec.Saved = s.Bool()
	}
	if p, ok := firstString(item, []string{"saved_path", "savedPath", "path"}); ok {
		rec.SavedPath = p
	}
	if a, ok := firstString(item, []string{"action"}); ok && strings.EqualFold(a, string(core.ArtifactModified)) {
		rec.Action = core.ArtifactModified
	}
	if sz, ok := first(item, []string{"size_bytes", "sizeBytes", "size"}); ok && (sz.Type == gjson.Number || sz.Type == gjson.String) {
		v := sz.Int()
		rec.SizeBytes = &v
	}
	return rec, true
}

func parseHitlRequest(r gjson.Result) (*core.HitlRequest, error) {
	id, ok := firstString(r, []string{"request_id", "requestId", "id"})
	if !ok {
		return nil, fmt.Errorf("missing request_id")
	}
	req := &core.HitlRequest{RequestID: id}
	req.WorkflowID, _ = firstString(r, []string{"workflow_id", "workflowId"})
	req.CheckpointType, _ = firstString(r, []string{"checkpoint_type", "checkpointType", "type"})
	req.Title, _ = firstString(r, []string{"title"})
	req.Description, _ = firstString(r, []string{"description"})
	if c, ok := first(r, []string{"content"}); ok {
		if c.Type == gjson.String {
			req.Content = c.Str
		} else {
			req.Content = c.Raw
		}
	}
	if s, ok := first(r, []string{"allow_skip", "allowSkip"}); ok {
		req.AllowSkip = s.Bool()
	}
	return req, nil
}

var extLanguages = map[string]string{
	".py": "python", ".go": "go", ".js": "javascript", ".ts": "typescript", ".tsx": "tsx",
	".jsx": "jsx", ".rs": "rust", ".java": "java", ".rb": "ruby", ".sh": "bash",
	".md": "markdown", ".json": "json", ".yaml": "yaml", ".yml": "yaml", ".toml": "toml",
	".html": "html", ".css": "css", ".sql": "sql", ".txt": "text",
}

func languageFor(filename string) string {
	if lang, ok := extLanguages[strings.ToLower(path.Ext(filename))]; ok {
		return lang
	}
	return "text"
}
