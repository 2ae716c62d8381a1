package transport

// Raw send-outcome status codes, following the NimBLE host error numbering
// that the default outcome classification is built for. Transports built on
// other stacks map their native errors onto these before delivery.
const (
	StatusOK       = 0  // notification queued and sent
	StatusMsgSize  = 4  // payload too large for the current connection
	StatusNoMem    = 6  // controller out of buffers
	StatusNotConn  = 7  // connection handle no longer valid
	StatusApp      = 8  // application-level rejection
	StatusBadData  = 9  // payload rejected as malformed
	StatusEOS      = 10 // end of stream; some stack builds report bad data here
	StatusEOS2     = 11 // end of stream
	StatusNoMemEvt = 12 // out of event memory
	StatusTimeout  = 13 // not confirmed in time
	StatusDone     = 14 // indication confirmed
	StatusBusy     = 15 // another procedure in progress
)
