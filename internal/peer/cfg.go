package peer

// WebRTCConfigOptions configures peer connections.
type WebRTCConfigOptions struct {
	ICEServer  string
	Username   string
	Credential string

	// Codecs is the ordered video codec preference list as MIME types.
	Codecs []string
}
