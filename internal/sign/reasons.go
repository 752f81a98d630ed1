package sign

// Reason is the code/message pair of error responses and deletions.
type Reason struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var (
	ReasonInvalidMethod         = Reason{1001, "Invalid method."}
	ReasonInvalidEvent          = Reason{1002, "Invalid event."}
	ReasonInvalidUpdateRequest  = Reason{1003, "Invalid update request."}
	ReasonInvalidExtendRequest  = Reason{1004, "Invalid extend request."}
	ReasonInvalidSettleRequest  = Reason{1005, "Invalid session settle request."}
	ReasonUnauthorizedMethod    = Reason{3001, "Unauthorized method."}
	ReasonUnauthorizedEvent     = Reason{3002, "Unauthorized event."}
	ReasonUnauthorizedUpdate    = Reason{3003, "Unauthorized update request."}
	ReasonUnauthorizedExtend    = Reason{3004, "Unauthorized extend request."}
	ReasonUserRejected          = Reason{5000, "User rejected."}
	ReasonUnsupportedNamespace  = Reason{5104, "Unsupported namespace key."}
	ReasonUserDisconnected      = Reason{6000, "User disconnected."}
	ReasonSettlementFailed      = Reason{7000, "Session settlement failed."}
	ReasonNoSessionForTopic     = Reason{7001, "No session for topic."}
	ReasonSessionRequestExpired = Reason{8000, "Session request expired."}
	ReasonSessionExpired        = Reason{8001, "Session expired."}
	ReasonMethodUnsupported     = Reason{10001, "Unsupported wc_ method."}
)
