package types

import "time"

// ModelID identifies a catalog model. Opaque and stable.
type ModelID string

// FileID identifies a downloadable model file. Opaque and stable.
type FileID string

// Model is a catalog entry describing an LLM and its downloadable files.
type Model struct {
	// Stable identifier for the model.
	// example: TheBloke/Mistral-7B-Instruct-v0.2-GGUF
	ID ModelID `json:"id" yaml:"id" toml:"id" example:"TheBloke/Mistral-7B-Instruct-v0.2-GGUF"`
	// Human-friendly name.
	// example: Mistral 7B Instruct v0.2
	Name string `json:"name" yaml:"name" toml:"name" example:"Mistral 7B Instruct v0.2"`
	// Short description shown in listings.
	Summary string `json:"summary,omitempty" yaml:"summary" toml:"summary"`
	// Publisher of the weights.
	// example: TheBloke
	Author string `json:"author,omitempty" yaml:"author" toml:"author" example:"TheBloke"`
	// Parameter size label.
	// example: 7B
	Size string `json:"size,omitempty" yaml:"size" toml:"size" example:"7B"`
	// Rough hardware requirement hint.
	// example: 8GB+ RAM
	Requires string `json:"requires,omitempty" yaml:"requires" toml:"requires" example:"8GB+ RAM"`
	// Model family / architecture.
	// example: llama
	Architecture string `json:"architecture,omitempty" yaml:"architecture" toml:"architecture" example:"llama"`
	// Release date of the weights.
	Released time.Time `json:"released,omitempty" yaml:"released" toml:"released"`
	// Whether the model is shown in the featured list.
	Featured bool `json:"featured,omitempty" yaml:"featured" toml:"featured"`
	// Popularity counters used for ordering.
	Likes     int64 `json:"likes,omitempty" yaml:"likes" toml:"likes"`
	Downloads int64 `json:"downloads,omitempty" yaml:"downloads" toml:"downloads"`
	// Free-form tags.
	Tags []string `json:"tags,omitempty" yaml:"tags" toml:"tags"`
	// Files that can be downloaded for this model.
	Files []File `json:"files,omitempty" yaml:"files" toml:"files"`
}

// File is a downloadable artifact belonging to a Model.
type File struct {
	// Stable identifier for the file.
	// example: mistral-7b-instruct-v0.2.Q4_K_M.gguf
	ID FileID `json:"id" yaml:"id" toml:"id" example:"mistral-7b-instruct-v0.2.Q4_K_M.gguf"`
	// Owning model. Filled in by the catalog when omitted in the source.
	ModelID ModelID `json:"model_id" yaml:"model_id" toml:"model_id"`
	// File name on disk once downloaded.
	Name string `json:"name" yaml:"name" toml:"name"`
	// Size in bytes (0 when unknown).
	// example: 4368439584
	Size int64 `json:"size" yaml:"size" toml:"size" example:"4368439584"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quantization string `json:"quantization,omitempty" yaml:"quantization" toml:"quantization" example:"Q4_K_M"`
	// Container format.
	// example: gguf
	Format string `json:"format,omitempty" yaml:"format" toml:"format" example:"gguf"`
	// Source location (http(s):// or file://).
	URL string `json:"url,omitempty" yaml:"url" toml:"url"`
	// Optional lowercase hex SHA-256 of the content.
	SHA256 string `json:"sha256,omitempty" yaml:"sha256" toml:"sha256"`
	Tags   []string `json:"tags,omitempty" yaml:"tags" toml:"tags"`
}

// CompatibilityGuess is a heuristic classification of whether a downloaded
// file can be used by the runtime.
type CompatibilityGuess string

const (
	PossiblySupported CompatibilityGuess = "possibly_supported"
	NotSupported      CompatibilityGuess = "not_supported"
)

// DownloadedFile is created when a download completes and is immutable afterwards.
type DownloadedFile struct {
	File               File               `json:"file"`
	Model              Model              `json:"model"`
	DownloadedAt       time.Time          `json:"downloaded_at"`
	CompatibilityGuess CompatibilityGuess `json:"compatibility_guess"`
	// Inspector output, JSON formatted.
	Information string `json:"information"`
	// Absolute path of the artifact on disk.
	Path string `json:"path"`
}
