// Package model holds the wire and row types shared across the agent's
// pipeline: the FileRecord posted to the host, the CacheEntry persisted
// per path, the OutboxItem queued on upload failure, and the CursorRow
// that makes traversal resumable.
package model

import "time"

// Kind classifies a file for cataloging purposes.
type Kind string

const (
	KindVideo    Kind = "video"
	KindImage    Kind = "image"
	KindSubtitle Kind = "subtitle"
	KindXML      Kind = "xml"
	KindOther    Kind = "other"
	KindJunk     Kind = "junk"
)

// Hashes carries the fingerprint fields for a file. SampleHash is always
// present when hashing succeeded; FullHash is only set when a full-file
// digest was computed (gated by the off-peak window).
type Hashes struct {
	Algo       string `json:"algo"`
	SampleSize int64  `json:"sample_size"`
	SampleHash string `json:"sample_hash"`
	FullHash   string `json:"full_hash,omitempty"`
}

// VideoMeta carries normalized probe output. Only present on kind=video
// records emitted during Pass 2.
type VideoMeta struct {
	Duration    float64  `json:"duration"`
	Container   string   `json:"container"`
	VideoCodec  string   `json:"video_codec"`
	AudioCodecs []string `json:"audio_codecs"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Bitrate     int64    `json:"bitrate"`
	StreamsJSON string   `json:"streams_json"`
}

// FileRecord is the wire object delivered to the host. It is
// partial-by-design: Pass 1 emits it without VideoMeta, Pass 2 emits it
// with VideoMeta and without Hashes. The server merges records by Path.
type FileRecord struct {
	Kind      Kind       `json:"kind"`
	Path      string     `json:"path"`
	Size      int64      `json:"size"`
	MTime     float64    `json:"mtime"`
	CTime     float64    `json:"ctime"`
	InodeKey  string     `json:"inode_key"`
	Ext       string     `json:"ext"`
	Reason    string     `json:"reason,omitempty"`
	Hashes    *Hashes    `json:"hashes,omitempty"`
	VideoMeta *VideoMeta `json:"video_meta,omitempty"`
}

// Copy returns a deep-enough copy of the record (the uploader buffers
// records across goroutine boundaries and must not share pointers with
// the emitting worker once queued).
func (f *FileRecord) Copy() *FileRecord {
	cp := *f
	if f.Hashes != nil {
		h := *f.Hashes
		cp.Hashes = &h
	}
	if f.VideoMeta != nil {
		v := *f.VideoMeta
		v.AudioCodecs = append([]string(nil), f.VideoMeta.AudioCodecs...)
		cp.VideoMeta = &v
	}
	return &cp
}

// Stat is the subset of filesystem metadata the pipeline cares about,
// collected once per observation and threaded through classify/hash/probe
// without re-statting.
type Stat struct {
	Size     int64
	MTime    time.Time
	CTime    time.Time
	InodeKey string
	IsDir    bool
}

// CacheEntry is the Reuse Cache row, keyed by Path.
type CacheEntry struct {
	Path           string
	InodeKey       string
	Size           int64
	MTime          float64
	CTime          float64
	Probed         bool
	Hashed         bool
	HashAlgo       string
	HashSampleSize int64
	SampleHash     string
	FullHash       string
	LastSeen       time.Time
	LastHashedAt   time.Time
}

// OutboxItem is a durably queued batch payload awaiting a successful POST.
type OutboxItem struct {
	ID          int64
	BatchID     string
	PayloadJSON []byte
	CreatedAt   time.Time
}

// Phase names a scan pass. CursorRow is keyed by (Root, Phase).
type Phase string

const (
	PhaseHash  Phase = "hash"
	PhaseProbe Phase = "probe"
)

// CursorRow is the resumable-traversal checkpoint for one root+phase.
type CursorRow struct {
	Root      string
	Phase     Phase
	LastPath  string
	UpdatedAt time.Time
}

// BatchPayload is the JSON body POSTed to <host>/ingest/batch.
type BatchPayload struct {
	BatchID string        `json:"batch_id"`
	Files   []*FileRecord `json:"files"`
}
