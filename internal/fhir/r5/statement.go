package r5

import "time"

// MedicationStatement represents a FHIR R5 MedicationStatement resource.
// It is the record of a medication a patient is taking, including the
// dosage instructions derived from the active pattern window.
type MedicationStatement struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`

	Identifier []Identifier `json:"identifier,omitempty"`

	// Status is recorded | entered-in-error | draft in R5
	Status string `json:"status"`

	Category []CodeableConcept `json:"category,omitempty"`

	Medication CodeableReference `json:"medication"`
	Subject    Reference         `json:"subject"`

	EffectivePeriod *Period    `json:"effectivePeriod,omitempty"`
	DateAsserted    *time.Time `json:"dateAsserted,omitempty"`

	Note   []Annotation `json:"note,omitempty"`
	Dosage []Dosage     `json:"dosage,omitempty"`

	// Adherence is new in R5
	Adherence *StatementAdherence `json:"adherence,omitempty"`
}

// StatementAdherence captures whether the medication is being taken.
type StatementAdherence struct {
	Code   CodeableConcept  `json:"code"`
	Reason *CodeableConcept `json:"reason,omitempty"`
}

// MedicationAdministration represents a FHIR R5 MedicationAdministration
// resource, one per recorded dose intake.
type MedicationAdministration struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`

	Status       string            `json:"status"` // completed | not-done | stopped | unknown
	StatusReason []CodeableConcept `json:"statusReason,omitempty"`

	Medication CodeableReference `json:"medication"`
	Subject    Reference         `json:"subject"`

	// The single-r spelling follows the published R5 resource definition.
	OccurenceDateTime *time.Time `json:"occurenceDateTime,omitempty"`
	Recorded          *time.Time `json:"recorded,omitempty"`

	Note   []Annotation          `json:"note,omitempty"`
	Dosage *AdministrationDosage `json:"dosage,omitempty"`
}

// AdministrationDosage contains the administered dose details.
type AdministrationDosage struct {
	Text  string           `json:"text,omitempty"`
	Route *CodeableConcept `json:"route,omitempty"`
	Dose  *Quantity        `json:"dose,omitempty"`
}

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"` // collection | searchset | ...
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Total        int           `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry holds one resource in a bundle.
type BundleEntry struct {
	FullURL  string      `json:"fullUrl,omitempty"`
	Resource interface{} `json:"resource"`
}
