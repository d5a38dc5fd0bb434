package capability

import "encoding/json"

// ComplaintInput is the evidence bundle for analysis and contradiction detection.
// Paths refer to files readable by the script process.
type ComplaintInput struct {
	Complaint string `json:"complaint"`
	ImagePath string `json:"image_path,omitempty"`
	PDFPath   string `json:"pdf_path,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
	VideoPath string `json:"video_path,omitempty"`
}

// Passthrough keeps script output that the typed fields of a response could
// not hold. Zero-exit output never fails an adapter; it degrades into these fields.
type Passthrough struct {
	// Extra holds top-level keys that no typed field covers.
	Extra map[string]any `json:"extra,omitempty"`
	// Raw is the whole JSON document when it did not fit the typed fields.
	Raw json.RawMessage `json:"raw,omitempty"`
}

func (p *Passthrough) passthrough() *Passthrough { return p }

// ComplaintAnalysis holds the extracted incident details and a narrative summary.
type ComplaintAnalysis struct {
	Passthrough
	Details json.RawMessage `json:"details,omitempty"`
	Summary string          `json:"summary,omitempty"`
	// Output carries the script's raw text when it did not print JSON.
	Output string `json:"output,omitempty"`
}

// SimilarityReport lists matches against the official records and within the victim reports.
type SimilarityReport struct {
	Passthrough
	CrossDBMatches  json.RawMessage `json:"cross_db_matches,omitempty"`
	WithinDBMatches json.RawMessage `json:"within_db_matches,omitempty"`
	Output          string          `json:"output,omitempty"`
}

// ChatbotRequest is the payload sent to the chatbot script.
type ChatbotRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

// ChatbotResponse is a synthesized answer with the documents it drew on.
type ChatbotResponse struct {
	Passthrough
	Answer  string   `json:"answer,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Output  string   `json:"output,omitempty"`
}

// ExtractionRequest names a file and its type for ExtractTextFromFile.
type ExtractionRequest struct {
	FilePath string `json:"file_path"`
	FileType string `json:"file_type"`
}

// ExtractionResult is text pulled from a file. Extractors that print plain text
// fill Text; the video extractor reports audio and per-frame text separately.
type ExtractionResult struct {
	Passthrough
	Text             string   `json:"text,omitempty"`
	TranscribedAudio string   `json:"transcribed_audio,omitempty"`
	TextFromFrames   []string `json:"text_from_frames,omitempty"`
}

// ClassificationResult is a priority label with its numeric score.
type ClassificationResult struct {
	Passthrough
	Priority string  `json:"priority,omitempty"`
	Score    float64 `json:"score"`
	Output   string  `json:"output,omitempty"`
}

// ContradictionReport says whether the complaint conflicts with its evidence.
type ContradictionReport struct {
	Passthrough
	Analysis         string `json:"analysis,omitempty"`
	HasContradiction bool   `json:"has_contradiction"`
	Output           string `json:"output,omitempty"`
}

// CallScreeningRequest carries a phone-call transcript, or a recording for the
// script to transcribe first. Language picks the speech model (en or hi).
type CallScreeningRequest struct {
	Transcript string `json:"transcript,omitempty"`
	AudioPath  string `json:"audio_path,omitempty"`
	Language   string `json:"language,omitempty"`
}

// CallScreeningResult is the scam verdict for a call. Transcript is set when
// the script transcribed a recording.
type CallScreeningResult struct {
	Passthrough
	Classification string `json:"classification,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Output         string `json:"output,omitempty"`
}
