package turn

// ConfigOptions configures the relay used by peers that cannot reach each
// other directly.
type ConfigOptions struct {
	// PublicIP is the address relayed candidates advertise.
	PublicIP     string
	Host         string
	Port         int
	Username     string
	Password     string
	Realm        string
	RelayMinPort uint
	RelayMaxPort uint
}
