package model

type AuditActor struct {
	UserID string `json:"user_id,omitempty"`
	IP     string `json:"ip,omitempty"`
}

type AuditEntry struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	OccurredAt string     `json:"occurred_at"`
	Actor      AuditActor `json:"actor"`
	Status     string     `json:"status"`
	Subject    string     `json:"subject,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type AuditQuery struct {
	Action  string
	ActorID string
	Status  string
	From    string
	To      string
	Page    int
	Limit   int
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
}
