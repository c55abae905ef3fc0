package forward

import (
	"fmt"
	"strings"

	"github.com/betbot/gocopy/internal/domain"
	"github.com/betbot/gocopy/internal/ports"
)

// Server 可转发跟单请求的中继主机
type Server struct {
	Name  string `yaml:"name" json:"name"`
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
	User  string `yaml:"user" json:"user"`
	Key   string `yaml:"key_path" json:"key_path"`
	Token string `yaml:"token" json:"token"`
}

func (s Server) BaseURL() string {
	host := s.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if s.Port > 0 {
		return fmt.Sprintf("%s:%d", host, s.Port)
	}
	return host
}

// Pairing 跟单账户与中继主机的绑定，
// 未绑定时 Server 为 nil
type Pairing struct {
	Follower domain.Credential
	Server   *Server
}

// Pair 按 id 或名称将跟单账户匹配到同名主机。
// 只有一台主机时，未匹配的账户都使用它
func Pair(followers []domain.Credential, servers []Server) (paired []Pairing, unpaired []domain.Credential) {
	byName := make(map[string]*Server, len(servers))
	for i := range servers {
		byName[strings.ToLower(servers[i].Name)] = &servers[i]
	}
	for _, f := range followers {
		var s *Server
		for _, k := range []string{f.AccountID, f.Name} {
			if k == "" {
				continue
			}
			if m, ok := byName[strings.ToLower(k)]; ok {
				s = m
				break
			}
		}
		if s == nil && len(servers) == 1 {
			s = &servers[0]
		}
		if s == nil {
			unpaired = append(unpaired, f)
		}
		paired = append(paired, Pairing{Follower: f, Server: s})
	}
	return paired, unpaired
}

// Router 为跟单账户选择执行器：已绑定的中继或 Direct
type Router struct {
	direct ports.Executor
	relays map[string]ports.Executor
}

func NewRouter(direct ports.Executor) *Router {
	return &Router{direct: direct, relays: make(map[string]ports.Executor)}
}

// Bind 将跟单账户 id 绑定到 exec
func (r *Router) Bind(followerID string, exec ports.Executor) {
	r.relays[followerID] = exec
}

// For 返回绑定的执行器，没有则返回 Direct
func (r *Router) For(followerID string) ports.Executor {
	if e, ok := r.relays[followerID]; ok {
		return e
	}
	return r.direct
}
