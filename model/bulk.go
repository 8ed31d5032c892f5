package model

// BulkProgress is published after every settled batch. Completed never decreases.
type BulkProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// BulkItemResult is one entry of a bulk aggregate; every input item gets one.
type BulkItemResult struct {
	ID         string         `json:"id"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	ContractID string         `json:"contract_id,omitempty"`
	Status     ContractStatus `json:"status,omitempty"`
}

type BulkResult struct {
	TotalProcessed int              `json:"total_processed"`
	Successful     int              `json:"successful"`
	Failed         int              `json:"failed"`
	Partial        int              `json:"partial"`
	Results        []BulkItemResult `json:"results"`
}
