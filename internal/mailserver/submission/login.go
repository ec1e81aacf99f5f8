package submission

import (
	"github.com/emersion/go-sasl"
)

// loginState LOGIN 机制的服务端状态。
type loginState int

const (
	loginNotStarted loginState = iota
	loginWaitingUsername
	loginWaitingPassword
	loginDone
)

// loginServer LOGIN 机制的服务端实现。
//
// go-sasl 只提供 LOGIN 的客户端，服务端按 draft-murchison-sasl-login
// 的两步质询实现：Username: 与 Password: 各一轮，客户端可以把
// 用户名作为 initial response 直接带上。
type loginServer struct {
	authenticate func(username, password string) error
	username     string
	state        loginState
}

var _ sasl.Server = (*loginServer)(nil)

// newLoginServer 创建 LOGIN 服务端，凭据校验交给 authenticate。
func newLoginServer(authenticate func(username, password string) error) sasl.Server {
	return &loginServer{authenticate: authenticate}
}

// Next 推进一轮质询。
func (s *loginServer) Next(response []byte) ([]byte, bool, error) {
	switch s.state {
	case loginNotStarted:
		if response == nil {
			s.state = loginWaitingUsername
			return []byte("Username:"), false, nil
		}
		// initial response 里带了用户名
		s.username = string(response)
		s.state = loginWaitingPassword
		return []byte("Password:"), false, nil

	case loginWaitingUsername:
		s.username = string(response)
		s.state = loginWaitingPassword
		return []byte("Password:"), false, nil

	case loginWaitingPassword:
		s.state = loginDone
		return nil, true, s.authenticate(s.username, string(response))

	default:
		return nil, true, sasl.ErrUnexpectedClientResponse
	}
}
