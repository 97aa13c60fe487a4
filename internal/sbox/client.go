package sbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	logger "github.com/PolarWolf314/sbox/internal/logging"
	"github.com/PolarWolf314/sbox/internal/secrets"
	"github.com/PolarWolf314/sbox/internal/storage"
)

// Well-known collection names shared by every client of a backend.
const (
	CollectionSBoxes     = "sboxes"
	CollectionPublicKeys = "public_keys"
	CollectionLinks      = "user_sboxes"
)

const (
	DefaultContextInfo = "sbox-identity-v1"
	DefaultPageSize    = 50
	DefaultMaxPages    = 10000
	DefaultChunkSize   = 256 * 1024
)

// Options tunes a Client.
type Options struct {
	// ContextInfo is bound into the password KDF. Every client of a backend
	// must use the same value or identities cannot be unwrapped.
	ContextInfo string
	KDF         secrets.KDFParams

	// PageSize is the limit requested per Search call; MaxPages caps a listing.
	PageSize int
	MaxPages int

	// ChunkSize is the blob upload chunk size.
	ChunkSize int

	// Now is the wall clock; tests replace it.
	Now func() time.Time
}

// DefaultOptions returns the options used when the config sets nothing.
func DefaultOptions() Options {
	return Options{
		ContextInfo: DefaultContextInfo,
		KDF:         secrets.DefaultKDFParams(),
		PageSize:    DefaultPageSize,
		MaxPages:    DefaultMaxPages,
		ChunkSize:   DefaultChunkSize,
		Now:         time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ContextInfo == "" {
		o.ContextInfo = d.ContextInfo
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = d.MaxPages
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

type layout struct {
	sboxes     string
	publicKeys string
	links      string
}

// Client runs the SBox protocol against a backend. It holds at most one
// logged-in User.
type Client struct {
	backend storage.Backend
	opts    Options
	log     logger.Logger

	mu      sync.Mutex
	layout  *layout
	current *User
}

// NewClient returns a client for backend. Zero option fields take defaults.
func NewClient(backend storage.Backend, opts Options, log logger.Logger) *Client {
	return &Client{backend: backend, opts: opts.withDefaults(), log: log}
}

// Current returns the logged-in user, or nil.
func (c *Client) Current() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) collections(ctx context.Context) (*layout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.layout != nil {
		return c.layout, nil
	}

	names := []string{CollectionSBoxes, CollectionPublicKeys, CollectionLinks}
	ids := make([]string, len(names))
	for i, name := range names {
		col, err := c.backend.EnsureCollection(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("preparing collection %s: %w", name, err)
		}
		ids[i] = col.ID
	}

	c.layout = &layout{sboxes: ids[0], publicKeys: ids[1], links: ids[2]}
	return c.layout, nil
}

// SignUp creates an account and publishes its identity public key.
//
// The identity key pair is generated here and its private key is stored on
// the account wrapped under e2ePassword. accountPassword only authenticates
// against the backend. The user is not logged in afterwards.
func (c *Client) SignUp(ctx context.Context, username, accountPassword, e2ePassword string, info map[string]string) (string, error) {
	l, err := c.collections(ctx)
	if err != nil {
		return "", err
	}

	identity, exports, err := secrets.InitializeIdentity([]byte(e2ePassword), c.opts.ContextInfo, c.opts.KDF)
	if err != nil {
		return "", fmt.Errorf("signing up %s: %w", username, err)
	}
	identity.Destroy()

	if info == nil {
		info = map[string]string{}
	}
	encodedInfo, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("%w: user info: %v", kerrors.ErrDecode, err)
	}
	publicKey := base64.StdEncoding.EncodeToString(exports.PublicKey)

	var userID string
	err = c.runSaga(ctx, "sign up "+username, []step{
		{"create account", func(ctx context.Context) error {
			u, err := c.backend.CreateUser(ctx, username, accountPassword, map[string]string{
				attrPrivateKey: base64.StdEncoding.EncodeToString(exports.PrivateKey),
				attrPublicKey:  publicKey,
				attrUserInfo:   string(encodedInfo),
			})
			if err != nil {
				return err
			}
			userID = u.ID
			return nil
		}},
		{"publish public key", func(ctx context.Context) error {
			content, err := encodeRecord(publicKeyRecord{UserID: userID, PublicKey: publicKey})
			if err != nil {
				return err
			}
			_, err = c.backend.CreateDocument(ctx, &storage.Document{
				CollectionID: l.publicKeys,
				Index:        map[string]string{fieldUserID: userID},
				Content:      content,
			})
			return err
		}},
	})
	if err != nil {
		return "", err
	}

	c.log.Infof("Signed up %s (%s)", username, userID)
	return userID, nil
}

// Login authenticates against the backend and unwraps the user's identity.
// Any previously logged-in user is logged out first, so only one identity is
// resident at a time.
//
// Returns ErrUnauthorized for a bad account password and ErrCredential when
// the identity cannot be unwrapped with e2ePassword.
func (c *Client) Login(ctx context.Context, username, accountPassword, e2ePassword string) (*User, error) {
	if prev := c.Current(); prev != nil {
		if err := prev.Logout(ctx); err != nil {
			c.log.Warnf("Logging out %s: %v", prev.Username, err)
		}
	}

	if _, err := c.collections(ctx); err != nil {
		return nil, err
	}

	session, err := c.backend.Authenticate(ctx, username, accountPassword)
	if err != nil {
		return nil, fmt.Errorf("logging in %s: %w", username, err)
	}

	identity, err := c.startIdentity(ctx, session.UserID, e2ePassword)
	if err != nil {
		_ = c.backend.EndSession(ctx, session.Token)
		return nil, fmt.Errorf("logging in %s: %w", username, err)
	}

	u := newUser(c, session.UserID, username, session, identity)

	c.mu.Lock()
	c.current = u
	c.mu.Unlock()

	c.log.Infof("Logged in as %s", username)
	return u, nil
}

func (c *Client) startIdentity(ctx context.Context, userID, e2ePassword string) (*secrets.Identity, error) {
	account, err := c.backend.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	privateKey, err := base64.StdEncoding.DecodeString(account.Attributes[attrPrivateKey])
	if err != nil || len(privateKey) == 0 {
		return nil, fmt.Errorf("%w: account has no usable private key", kerrors.ErrCredential)
	}
	publicKey, err := base64.StdEncoding.DecodeString(account.Attributes[attrPublicKey])
	if err != nil || len(publicKey) == 0 {
		return nil, fmt.Errorf("%w: account has no usable public key", kerrors.ErrCredential)
	}

	return secrets.StartIdentity([]byte(e2ePassword), secrets.KeyExports{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
	}, c.opts.ContextInfo, c.opts.KDF)
}

func (c *Client) releaseCurrent(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == u {
		c.current = nil
	}
}

// now returns the wall clock truncated to whole seconds in UTC.
func (c *Client) now() time.Time {
	return c.opts.Now().UTC().Truncate(time.Second)
}
