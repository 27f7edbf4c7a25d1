package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"
)

// PrefStoreSuite is a test suite for PrefStore operations.
type PrefStoreSuite struct {
	suite.Suite
	db      *sql.DB
	prefs   *PrefStore
	cleanup func()
	ctx     context.Context
}

func (s *PrefStoreSuite) SetupTest() {
	s.db, _, s.cleanup = testDB(s.T())
	s.prefs = NewPrefStore(newStoreFromDB(s.db))
	s.ctx = context.Background()
}

func (s *PrefStoreSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func TestPrefStoreSuite(t *testing.T) {
	suite.Run(t, new(PrefStoreSuite))
}

// TestGetFallback tests the fallback for absent keys.
func (s *PrefStoreSuite) TestGetFallback() {
	value, err := s.prefs.Get(s.ctx, "missing", "default")
	s.Require().NoError(err)
	s.Equal("default", value)
}

// TestSetAndGet tests the persistence round trip.
func (s *PrefStoreSuite) TestSetAndGet() {
	err := s.prefs.Set(s.ctx, "execution_mode", "local")
	s.Require().NoError(err)

	value, err := s.prefs.Get(s.ctx, "execution_mode", "cloud")
	s.Require().NoError(err)
	s.Equal("local", value)
}

// TestSetOverwrites tests that Set replaces an existing value.
func (s *PrefStoreSuite) TestSetOverwrites() {
	s.Require().NoError(s.prefs.Set(s.ctx, "execution_mode", "local"))
	s.Require().NoError(s.prefs.Set(s.ctx, "execution_mode", "cloud"))

	value, err := s.prefs.Get(s.ctx, "execution_mode", "local")
	s.Require().NoError(err)
	s.Equal("cloud", value)

	// Only one row for the key
	var count int
	err = s.db.QueryRow("SELECT COUNT(*) FROM prefs WHERE key = 'execution_mode'").Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)
}
