package indexer

import "fmt"

// Step names a stage of the ingestion pipeline.
type Step string

const (
	StepFingerprint Step = "fingerprint"
	StepLookup      Step = "lookup"
	StepUpload      Step = "upload"
	StepExtract     Step = "extract"
	StepEmbed       Step = "embed"
	StepStore       Step = "store"
)

// StepError reports which pipeline step failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
