package domain

// Collection-point definitions are administered outside this service; the
// pipeline only reads them when building artifacts.

type CPPurpose struct {
	PurposeID             string          `json:"purpose_id"`
	Name                  string          `json:"name,omitempty"`
	ConsentTimePeriodDays int             `json:"consent_time_period_days"`
	DataProcessors        []DataProcessor `json:"data_processors,omitempty"`
	MandatoryLegal        bool            `json:"mandatory_legal"`
	MandatoryService      bool            `json:"mandatory_service"`
}

type CPDataElement struct {
	DataElementID string      `json:"data_element_id"`
	Name          string      `json:"name,omitempty"`
	RetentionDays int         `json:"retention_days"`
	Purposes      []CPPurpose `json:"purposes"`
}

type CollectionPoint struct {
	CPID         string          `json:"cp_id"`
	CPName       string          `json:"cp_name"`
	DFID         string          `json:"df_id"`
	DataElements []CPDataElement `json:"data_elements"`
}
