package daemon

import "google.golang.org/protobuf/encoding/protowire"

type pingRequest struct{}

func (*pingRequest) marshalWire() []byte { return nil }

func (m *pingRequest) unmarshalWire(b []byte) error {
	*m = pingRequest{}
	return walkFields(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

type pingResponse struct {
	IdleRemainingSeconds int64
}

func (m *pingResponse) marshalWire() []byte {
	return appendInt(nil, 1, m.IdleRemainingSeconds)
}

func (m *pingResponse) unmarshalWire(b []byte) error {
	*m = pingResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeInt(typ, b, &m.IdleRemainingSeconds)
		}
		return 0
	})
}

type statusRequest struct{}

func (*statusRequest) marshalWire() []byte { return nil }

func (m *statusRequest) unmarshalWire(b []byte) error {
	*m = statusRequest{}
	return walkFields(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

type statusResponse struct {
	Running              bool
	PID                  int64
	UptimeSeconds        int64
	LastActivityUnix     int64
	IdleRemainingSeconds int64
	CachedPrograms       int64
	Version              string
}

func (m *statusResponse) marshalWire() []byte {
	var b []byte
	b = appendBool(b, 1, m.Running)
	b = appendInt(b, 2, m.PID)
	b = appendInt(b, 3, m.UptimeSeconds)
	b = appendInt(b, 4, m.LastActivityUnix)
	b = appendInt(b, 5, m.IdleRemainingSeconds)
	b = appendInt(b, 6, m.CachedPrograms)
	b = appendString(b, 7, m.Version)
	return b
}

func (m *statusResponse) unmarshalWire(b []byte) error {
	*m = statusResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBool(typ, b, &m.Running)
		case 2:
			return consumeInt(typ, b, &m.PID)
		case 3:
			return consumeInt(typ, b, &m.UptimeSeconds)
		case 4:
			return consumeInt(typ, b, &m.LastActivityUnix)
		case 5:
			return consumeInt(typ, b, &m.IdleRemainingSeconds)
		case 6:
			return consumeInt(typ, b, &m.CachedPrograms)
		case 7:
			return consumeString(typ, b, &m.Version)
		}
		return 0
	})
}

type shutdownRequest struct{}

func (*shutdownRequest) marshalWire() []byte { return nil }

func (m *shutdownRequest) unmarshalWire(b []byte) error {
	*m = shutdownRequest{}
	return walkFields(b, func(protowire.Number, protowire.Type, []byte) int { return 0 })
}

type shutdownResponse struct {
	Success bool
}

func (m *shutdownResponse) marshalWire() []byte {
	return appendBool(nil, 1, m.Success)
}

func (m *shutdownResponse) unmarshalWire(b []byte) error {
	*m = shutdownResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeBool(typ, b, &m.Success)
		}
		return 0
	})
}

// transformRequest is one client message of the Transform stream. The first
// message carries the header; stdin chunks follow until StdinEOF is set.
type transformRequest struct {
	Header   *transformHeader
	Stdin    []byte
	StdinEOF bool
}

func (m *transformRequest) marshalWire() []byte {
	var b []byte
	if m.Header != nil {
		b = appendMessage(b, 1, m.Header)
	}
	b = appendBytes(b, 2, m.Stdin)
	b = appendBool(b, 3, m.StdinEOF)
	return b
}

func (m *transformRequest) unmarshalWire(b []byte) error {
	*m = transformRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			m.Header = &transformHeader{}
			return consumeMessage(typ, b, m.Header)
		case 2:
			return consumeBytes(typ, b, &m.Stdin)
		case 3:
			return consumeBool(typ, b, &m.StdinEOF)
		}
		return 0
	})
}

type transformHeader struct {
	Program     string
	Input       string
	HasInput    bool
	SystemID    string
	HasSystemID bool
	Cwd         string
	Params      []*parameter
}

func (m *transformHeader) marshalWire() []byte {
	var b []byte
	b = appendString(b, 1, m.Program)
	b = appendString(b, 2, m.Input)
	b = appendBool(b, 3, m.HasInput)
	b = appendString(b, 4, m.SystemID)
	b = appendBool(b, 5, m.HasSystemID)
	b = appendString(b, 6, m.Cwd)
	for _, p := range m.Params {
		b = appendMessage(b, 7, p)
	}
	return b
}

func (m *transformHeader) unmarshalWire(b []byte) error {
	*m = transformHeader{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Program)
		case 2:
			return consumeString(typ, b, &m.Input)
		case 3:
			return consumeBool(typ, b, &m.HasInput)
		case 4:
			return consumeString(typ, b, &m.SystemID)
		case 5:
			return consumeBool(typ, b, &m.HasSystemID)
		case 6:
			return consumeString(typ, b, &m.Cwd)
		case 7:
			p := &parameter{}
			n := consumeMessage(typ, b, p)
			if n > 0 {
				m.Params = append(m.Params, p)
			}
			return n
		}
		return 0
	})
}

type parameter struct {
	Name  string
	Value string
}

func (m *parameter) marshalWire() []byte {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendString(b, 2, m.Value)
	return b
}

func (m *parameter) unmarshalWire(b []byte) error {
	*m = parameter{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Name)
		case 2:
			return consumeString(typ, b, &m.Value)
		}
		return 0
	})
}

// transformResponse is one server message of the Transform stream. The last
// message has Done set and carries the exit status.
type transformResponse struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int64
	Done       bool
}

func (m *transformResponse) marshalWire() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Stdout)
	b = appendBytes(b, 2, m.Stderr)
	b = appendInt(b, 3, m.ExitStatus)
	b = appendBool(b, 4, m.Done)
	return b
}

func (m *transformResponse) unmarshalWire(b []byte) error {
	*m = transformResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBytes(typ, b, &m.Stdout)
		case 2:
			return consumeBytes(typ, b, &m.Stderr)
		case 3:
			return consumeInt(typ, b, &m.ExitStatus)
		case 4:
			return consumeBool(typ, b, &m.Done)
		}
		return 0
	})
}
