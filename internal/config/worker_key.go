package config

type WorkerKeyStruct struct {
	SessionAuditQueue string
}

var WorkerKey = &WorkerKeyStruct{
	SessionAuditQueue: "session_audit_queue",
}
