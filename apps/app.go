package apps

// Limits are the per-app quotas enforced by the gateway. A zero field means
// "use the server default" (see Merge); a negative count or rate means
// unlimited.
type Limits struct {
	MaxConnections               int     `json:"max_connections" yaml:"max_connections"`
	MaxBackendEventsPerSecond    int     `json:"max_backend_events_per_second" yaml:"max_backend_events_per_second"`
	MaxClientEventsPerSecond     int     `json:"max_client_events_per_second" yaml:"max_client_events_per_second"`
	MaxReadRequestsPerSecond     int     `json:"max_read_requests_per_second" yaml:"max_read_requests_per_second"`
	MaxPresenceMembersPerChannel int     `json:"max_presence_members_per_channel" yaml:"max_presence_members_per_channel"`
	MaxPresenceMemberSizeInKb    float64 `json:"max_presence_member_size_in_kb" yaml:"max_presence_member_size_in_kb"`
	MaxChannelNameLength         int     `json:"max_channel_name_length" yaml:"max_channel_name_length"`
	MaxEventChannelsAtOnce       int     `json:"max_event_channels_at_once" yaml:"max_event_channels_at_once"`
	MaxEventNameLength           int     `json:"max_event_name_length" yaml:"max_event_name_length"`
	MaxEventPayloadInKb          float64 `json:"max_event_payload_in_kb" yaml:"max_event_payload_in_kb"`
}

// DefaultLimits returns the server-wide defaults
func DefaultLimits() Limits {
	return Limits{
		MaxConnections:               -1,
		MaxBackendEventsPerSecond:    -1,
		MaxClientEventsPerSecond:     -1,
		MaxReadRequestsPerSecond:     -1,
		MaxPresenceMembersPerChannel: 100,
		MaxPresenceMemberSizeInKb:    2,
		MaxChannelNameLength:         200,
		MaxEventChannelsAtOnce:       100,
		MaxEventNameLength:           200,
		MaxEventPayloadInKb:          100,
	}
}

// Merge returns l with every zero field taken from defaults
func (l Limits) Merge(defaults Limits) Limits {
	out := l
	if out.MaxConnections == 0 {
		out.MaxConnections = defaults.MaxConnections
	}
	if out.MaxBackendEventsPerSecond == 0 {
		out.MaxBackendEventsPerSecond = defaults.MaxBackendEventsPerSecond
	}
	if out.MaxClientEventsPerSecond == 0 {
		out.MaxClientEventsPerSecond = defaults.MaxClientEventsPerSecond
	}
	if out.MaxReadRequestsPerSecond == 0 {
		out.MaxReadRequestsPerSecond = defaults.MaxReadRequestsPerSecond
	}
	if out.MaxPresenceMembersPerChannel == 0 {
		out.MaxPresenceMembersPerChannel = defaults.MaxPresenceMembersPerChannel
	}
	if out.MaxPresenceMemberSizeInKb == 0 {
		out.MaxPresenceMemberSizeInKb = defaults.MaxPresenceMemberSizeInKb
	}
	if out.MaxChannelNameLength == 0 {
		out.MaxChannelNameLength = defaults.MaxChannelNameLength
	}
	if out.MaxEventChannelsAtOnce == 0 {
		out.MaxEventChannelsAtOnce = defaults.MaxEventChannelsAtOnce
	}
	if out.MaxEventNameLength == 0 {
		out.MaxEventNameLength = defaults.MaxEventNameLength
	}
	if out.MaxEventPayloadInKb == 0 {
		out.MaxEventPayloadInKb = defaults.MaxEventPayloadInKb
	}
	return out
}

// App is a tenant: every connection, channel and API call is scoped to one
type App struct {
	ID                   string `json:"id" yaml:"id"`
	Key                  string `json:"key" yaml:"key"`
	Secret               string `json:"secret" yaml:"secret"`
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	EnableClientMessages bool   `json:"enable_client_messages" yaml:"enable_client_messages"`
	Limits               `json:"limits" yaml:"limits"`
}

// WithDefaults returns a copy of the app whose limits are merged with defaults
func (a *App) WithDefaults(defaults Limits) *App {
	cp := *a
	cp.Limits = a.Limits.Merge(defaults)
	return &cp
}
