package cli

import (
	"context"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/local"
)

// storeTokenSource reads the access token from local sync metadata, so a
// session survives restarts and a sign-out is visible to every component
// on the next call.
type storeTokenSource struct {
	store *local.Store
}

func (s *storeTokenSource) AccessToken(ctx context.Context) (string, error) {
	raw, err := s.store.Meta(nil).Get(ctx, common.MetaKeyAccessToken)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
