package model

import "time"

// ClinicalRecord is one sample's clinical document. Produced by an external
// ingest pipeline; the engine only reads these.
type ClinicalRecord struct {
	SampleID                 string
	MRN                      string
	BirthDate                time.Time
	Gender                   string
	OncotreePrimaryDiagnosis string
	VitalStatus              string
	OrdPhysicianName         string
	OrdPhysicianEmail        string
	ReportDate               time.Time
}
