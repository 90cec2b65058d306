// Package events decodes and classifies the structured records printed by borg running inside the helper container.
//
// borg writes one JSON document per event on stderr (--log-json) and a final JSON result on stdout (--json).
// Decode maps a document to one of the variants below by looking up its "type" field. Result documents carry no
// type and are recognized by their top level keys. Anything else becomes an Opaque event so nothing is dropped.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Discriminators emitted by borg.
const (
	TypeLogMessage        = "log_message"
	TypeProgressPercent   = "progress_percent"
	TypeProgressMessage   = "progress_message"
	TypeArchiveProgress   = "archive_progress"
	TypeQuestionPrompt    = "question_prompt"
	TypeQuestionEnvAnswer = "question_env_answer"

	// Synthetic kinds for records without a "type" field.
	TypeStats       = "stats"
	TypeArchiveList = "archive_list"
	TypeText        = "text"
)

// Event is one decoded record.
type Event interface {
	Type() string
}

// LogMessage is a borg log line.
type LogMessage struct {
	Level   string  `json:"levelname"`
	Name    string  `json:"name"`
	Message string  `json:"message"`
	MsgID   string  `json:"msgid"`
	Time    float64 `json:"time"`
}

func (LogMessage) Type() string { return TypeLogMessage }

// ProgressPercent reports byte or item progress of a long operation.
type ProgressPercent struct {
	Operation int      `json:"operation"`
	MsgID     string   `json:"msgid"`
	Message   string   `json:"message"`
	Current   int64    `json:"current"`
	Total     int64    `json:"total"`
	Info      []string `json:"info"`
	Finished  bool     `json:"finished"`
}

func (ProgressPercent) Type() string { return TypeProgressPercent }

// ProgressMessage is a free form progress line.
type ProgressMessage struct {
	Operation int    `json:"operation"`
	MsgID     string `json:"msgid"`
	Message   string `json:"message"`
	Finished  bool   `json:"finished"`
}

func (ProgressMessage) Type() string { return TypeProgressMessage }

// ArchiveProgress reports the state of an archive being created.
type ArchiveProgress struct {
	OriginalSize     int64  `json:"original_size"`
	CompressedSize   int64  `json:"compressed_size"`
	DeduplicatedSize int64  `json:"deduplicated_size"`
	NFiles           int64  `json:"nfiles"`
	Path             string `json:"path"`
	Finished         bool   `json:"finished"`
}

func (ArchiveProgress) Type() string { return TypeArchiveProgress }

// QuestionPrompt is borg asking for confirmation.
type QuestionPrompt struct {
	MsgID   string `json:"msgid"`
	Message string `json:"message"`
}

func (QuestionPrompt) Type() string { return TypeQuestionPrompt }

// QuestionEnvAnswer is borg answering one of its own prompts from the environment.
type QuestionEnvAnswer struct {
	MsgID   string `json:"msgid"`
	Message string `json:"message"`
}

func (QuestionEnvAnswer) Type() string { return TypeQuestionEnvAnswer }

// Stats is the result of borg create --json --stats.
type Stats struct {
	ArchiveName      string
	Duration         float64
	OriginalSize     int64
	CompressedSize   int64
	DeduplicatedSize int64
	NFiles           int64
	// RepositorySize is the unique compressed size of the whole repository.
	RepositorySize int64
	Location       string
}

func (Stats) Type() string { return TypeStats }

// Archive is one entry of a repository listing.
type Archive struct {
	Name string `json:"name"`
	Time string `json:"time"`
}

// ArchiveList is the result of borg list --json.
type ArchiveList struct {
	Archives []Archive
	Location string
}

func (ArchiveList) Type() string { return TypeArchiveList }

// Text is an output line that is not JSON.
type Text struct {
	Line string
}

func (Text) Type() string { return TypeText }

// Opaque is a structured record of a kind this package does not interpret.
type Opaque struct {
	Kind string
	Raw  json.RawMessage
}

func (o Opaque) Type() string { return o.Kind }

type statsWire struct {
	Archive struct {
		Name     string  `json:"name"`
		Duration float64 `json:"duration"`
		Stats    struct {
			OriginalSize     int64 `json:"original_size"`
			CompressedSize   int64 `json:"compressed_size"`
			DeduplicatedSize int64 `json:"deduplicated_size"`
			NFiles           int64 `json:"nfiles"`
		} `json:"stats"`
	} `json:"archive"`
	Cache struct {
		Stats struct {
			UniqueCSize int64 `json:"unique_csize"`
		} `json:"stats"`
	} `json:"cache"`
	Repository struct {
		Location string `json:"location"`
	} `json:"repository"`
}

type listWire struct {
	Archives   []Archive `json:"archives"`
	Repository struct {
		Location string `json:"location"`
	} `json:"repository"`
}

// Decode parses one JSON document.
func Decode(raw []byte) (Event, error) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON record: %.80q", raw)
	}
	if raw[0] != '{' {
		return Opaque{Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	var kind string
	if t, ok := fields["type"]; ok {
		// a non string type is treated as missing
		_ = json.Unmarshal(t, &kind)
	}

	switch kind {
	case TypeLogMessage:
		return decodeAs[LogMessage](raw)
	case TypeProgressPercent:
		return decodeAs[ProgressPercent](raw)
	case TypeProgressMessage:
		return decodeAs[ProgressMessage](raw)
	case TypeArchiveProgress:
		return decodeAs[ArchiveProgress](raw)
	case TypeQuestionPrompt:
		return decodeAs[QuestionPrompt](raw)
	case TypeQuestionEnvAnswer:
		return decodeAs[QuestionEnvAnswer](raw)
	case "":
		if _, ok := fields["archive"]; ok {
			var w statsWire
			if err := json.Unmarshal(raw, &w); err != nil {
				return nil, fmt.Errorf("failed to decode stats: %w", err)
			}
			return Stats{
				ArchiveName:      w.Archive.Name,
				Duration:         w.Archive.Duration,
				OriginalSize:     w.Archive.Stats.OriginalSize,
				CompressedSize:   w.Archive.Stats.CompressedSize,
				DeduplicatedSize: w.Archive.Stats.DeduplicatedSize,
				NFiles:           w.Archive.Stats.NFiles,
				RepositorySize:   w.Cache.Stats.UniqueCSize,
				Location:         w.Repository.Location,
			}, nil
		}
		if _, ok := fields["archives"]; ok {
			var w listWire
			if err := json.Unmarshal(raw, &w); err != nil {
				return nil, fmt.Errorf("failed to decode archive list: %w", err)
			}
			return ArchiveList{Archives: w.Archives, Location: w.Repository.Location}, nil
		}
	}

	return Opaque{Kind: kind, Raw: append(json.RawMessage(nil), raw...)}, nil
}

func decodeAs[T Event](raw []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", v.Type(), err)
	}
	return v, nil
}
