package http

import (
	"github.com/dkeye/Jam/internal/adapters/signal"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session keys written by the external auth service.
const (
	SessionUserID      = "user_id"
	SessionDisplayName = "display_name"
	SessionAvatar      = "avatar"
)

// Headers a trusted gateway sets after authenticating the request.
const (
	HeaderUserID = "X-User-Id"
	HeaderName   = "X-User-Name"
	HeaderAvatar = "X-User-Avatar"
)

const clientTokenCookie = "ct"

type AuthOptions struct {
	AllowGuests  bool
	TrustHeaders bool
}

func genClientToken() string {
	return uuid.NewString()
}

// IdentityMiddleware binds a verified user to the request, trying the cookie
// session first, then gateway headers, then a guest identity. When none
// applies the request goes on without a user.
func IdentityMiddleware(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if u := fromSession(c); u != nil {
			c.Set(signal.UserKey, u)
		} else if opts.TrustHeaders {
			if u := fromHeaders(c); u != nil {
				c.Set(signal.UserKey, u)
			}
		}
		if _, ok := c.Get(signal.UserKey); !ok && opts.AllowGuests {
			c.Set(signal.UserKey, guest(c))
		}
		c.Next()
	}
}

func fromSession(c *gin.Context) *domain.User {
	s := sessions.Default(c)
	id, _ := s.Get(SessionUserID).(string)
	if id == "" {
		return nil
	}
	name, _ := s.Get(SessionDisplayName).(string)
	avatar, _ := s.Get(SessionAvatar).(string)
	u, err := domain.NewUser(domain.UserID(id), name, avatar)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("user", id).Msg("session identity rejected")
		return nil
	}
	return u
}

func fromHeaders(c *gin.Context) *domain.User {
	id := c.GetHeader(HeaderUserID)
	if id == "" {
		return nil
	}
	u, err := domain.NewUser(domain.UserID(id), c.GetHeader(HeaderName), c.GetHeader(HeaderAvatar))
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("user", id).Msg("header identity rejected")
		return nil
	}
	return u
}

// guest keeps the same anonymous id across reconnects through the client token cookie.
func guest(c *gin.Context) *domain.User {
	token, _ := c.Cookie(clientTokenCookie)
	if _, err := uuid.Parse(token); err != nil {
		token = genClientToken()
		c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
	}
	return &domain.User{ID: domain.UserID(token), DisplayName: "guest-" + token[:8]}
}
