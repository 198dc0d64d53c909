// Package provision maps verified purchaser emails to durable identities.
package provision

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/Zelfconnect/slowcarb/internal/identity"
	"github.com/Zelfconnect/slowcarb/internal/metrics"
)

// Provisioner finds or creates one identity per purchaser email.
// Lookup-then-create is not atomic at the store, so two layers close the
// race: concurrent calls for the same email collapse into one in-flight
// provisioning via singleflight, and a create that loses a cross-process
// race (store reports the email taken) falls back to a second lookup.
type Provisioner struct {
	identities *identity.Client
	group      singleflight.Group
}

func New(identities *identity.Client) *Provisioner {
	return &Provisioner{identities: identities}
}

// Ensure returns the identity for email, creating it if absent. The email
// is normalized before use; all failures are fatal for the caller's event
// so the processor redelivers.
func (p *Provisioner) Ensure(ctx context.Context, email string) (*identity.User, error) {
	key := identity.NormalizeEmail(email)
	v, err, _ := p.group.Do(key, func() (any, error) {
		// Collapsed callers share this one execution; detach it from
		// the first caller's context so its cancellation cannot fail
		// everyone else's request.
		return p.ensure(context.WithoutCancel(ctx), key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*identity.User), nil
}

func (p *Provisioner) ensure(ctx context.Context, email string) (*identity.User, error) {
	user, err := p.identities.UserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = p.identities.CreateUser(ctx, email)
	if errors.Is(err, identity.ErrEmailTaken) {
		// Lost the create race; the identity exists now.
		user, err = p.identities.UserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("re-lookup identity: %w", err)
		}
		if user == nil {
			return nil, errors.New("identity store reported email taken but lookup found nothing")
		}
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	metrics.ProvisionCreatedTotal.Inc()
	return user, nil
}
