package api

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spooni01/ha-automation-of-todo/internal/datastore"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/entities"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"github.com/stretchr/testify/require"
)

func openRepo(t *testing.T) repository.RuleRepository {
	t.Helper()
	store, err := datastore.Open(filepath.Join(t.TempDir(), "rules.db"), datastore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store.Rules()
}

func newController(repo repository.RuleRepository) *Controller {
	return &Controller{repo: repo, log: logger.NewNop()}
}

var errDiskFull = errors.New("database or disk is full")

// brokenRepo fails every call.
type brokenRepo struct{}

func (brokenRepo) AddRule(context.Context, *entities.Rule) error         { return errDiskFull }
func (brokenRepo) ListRules(context.Context) ([]entities.Rule, error)    { return nil, errDiskFull }
func (brokenRepo) GetRule(context.Context, uint) (*entities.Rule, error) { return nil, errDiskFull }
func (brokenRepo) UpdateRule(context.Context, *entities.Rule) error      { return errDiskFull }
func (brokenRepo) DeleteRule(context.Context, uint) error                { return errDiskFull }
func (brokenRepo) DeleteAllRules(context.Context) (int64, error)         { return 0, errDiskFull }
