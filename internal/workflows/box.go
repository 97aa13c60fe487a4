package workflows

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/PolarWolf314/sbox/internal/audit"
	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

// BoxSummary describes an SBox the user is linked to.
type BoxSummary struct {
	ID      string
	Name    string
	OwnerID string
	Owner   string
	Owned   bool
}

// CreateBox creates an SBox owned by the configured user.
func CreateBox(ctx context.Context, conn Connection, name string) (*BoxSummary, error) {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	sb, err := s.user.CreateSBox(ctx, name)
	if err != nil {
		return nil, err
	}

	entry := audit.LogWithUser("create", s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	audit.Log(entry)

	return &BoxSummary{ID: sb.ID, Name: sb.Name, OwnerID: sb.OwnerID, Owner: s.user.Username, Owned: true}, nil
}

// ListBoxes returns the SBoxes the user is linked to, sorted by name.
func ListBoxes(ctx context.Context, conn Connection) ([]BoxSummary, error) {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	ids, err := s.user.SyncSBoxes(ctx)
	if err != nil {
		return nil, err
	}

	owners := make(map[string]string)
	var boxes []BoxSummary
	for _, id := range ids {
		sb, err := s.user.GetSBox(ctx, id)
		if errors.Is(err, kerrors.ErrSBoxNotFound) {
			s.log.Debugf("Skipping dangling link to %s", id)
			continue
		}
		if err != nil {
			return nil, err
		}

		owner, ok := owners[sb.OwnerID]
		if !ok {
			owner, err = s.user.LookupUsername(ctx, sb.OwnerID)
			if err != nil {
				s.log.Debugf("Owner of %s: %v", id, err)
				owner = ""
			}
			owners[sb.OwnerID] = owner
		}

		boxes = append(boxes, BoxSummary{
			ID:      sb.ID,
			Name:    sb.Name,
			OwnerID: sb.OwnerID,
			Owner:   owner,
			Owned:   sb.OwnerID == s.user.ID,
		})
	}

	sort.SliceStable(boxes, func(i, j int) bool {
		if boxes[i].Name != boxes[j].Name {
			return boxes[i].Name < boxes[j].Name
		}
		return boxes[i].ID < boxes[j].ID
	})
	return boxes, nil
}

// Member is one user with access to an SBox.
type Member struct {
	ID       string
	Username string
	Owner    bool
}

// MembersResult lists an SBox's members.
type MembersResult struct {
	Box     BoxSummary
	Members []Member
}

// Members lists the users in the SBox access group.
func Members(ctx context.Context, conn Connection, boxRef string) (*MembersResult, error) {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, boxRef)
	if err != nil {
		return nil, err
	}
	ids, err := sb.SyncUsers(ctx, s.user)
	if err != nil {
		return nil, err
	}

	result := &MembersResult{
		Box: BoxSummary{ID: sb.ID, Name: sb.Name, OwnerID: sb.OwnerID, Owned: sb.OwnerID == s.user.ID},
	}
	for _, id := range ids {
		name, err := s.user.LookupUsername(ctx, id)
		if err != nil && !errors.Is(err, kerrors.ErrNotFound) {
			return nil, err
		}
		if id == sb.OwnerID {
			result.Box.Owner = name
		}
		result.Members = append(result.Members, Member{ID: id, Username: name, Owner: id == sb.OwnerID})
	}
	return result, nil
}

// AccessResult is the outcome of a grant or revoke.
type AccessResult struct {
	Box        BoxSummary
	TargetUser string
}

// Grant shares an SBox with username.
//
// Returns ErrUserNotFound, ErrAlreadyMember or ErrPublicKeyNotFound.
func Grant(ctx context.Context, conn Connection, boxRef, username string) (*AccessResult, error) {
	return changeAccess(ctx, conn, boxRef, username, "grant")
}

// Revoke removes username's access to an SBox. The common key is not
// rotated, so anything they already retrieved stays readable to them.
//
// Returns ErrUserNotFound or ErrSelfRevoke.
func Revoke(ctx context.Context, conn Connection, boxRef, username string) (*AccessResult, error) {
	return changeAccess(ctx, conn, boxRef, username, "revoke")
}

func changeAccess(ctx context.Context, conn Connection, boxRef, username, op string) (*AccessResult, error) {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, boxRef)
	if err != nil {
		return nil, err
	}

	if op == "grant" {
		err = sb.GrantAccess(ctx, s.user, username)
	} else {
		err = sb.RevokeAccess(ctx, s.user, username)
	}
	if err != nil {
		return nil, err
	}

	entry := audit.LogWithUser(op, s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	entry.TargetUser = username
	audit.Log(entry)

	return &AccessResult{
		Box:        BoxSummary{ID: sb.ID, Name: sb.Name, OwnerID: sb.OwnerID, Owned: sb.OwnerID == s.user.ID},
		TargetUser: username,
	}, nil
}

// DeleteBox deletes an SBox with all of its documents and files.
//
// Returns ErrNotOwner when the user is a member but not the owner.
func DeleteBox(ctx context.Context, conn Connection, boxRef string) (*BoxSummary, error) {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, boxRef)
	if err != nil {
		return nil, err
	}
	if sb.OwnerID != s.user.ID {
		return nil, fmt.Errorf("%w: deleting %s", kerrors.ErrNotOwner, sb.Name)
	}
	if err := s.user.RemoveSBox(ctx, sb.ID); err != nil {
		return nil, err
	}

	entry := audit.LogWithUser("delete", s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	audit.Log(entry)

	return &BoxSummary{ID: sb.ID, Name: sb.Name, OwnerID: sb.OwnerID, Owned: sb.OwnerID == s.user.ID}, nil
}
