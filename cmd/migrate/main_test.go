package main

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmigrations "github.com/wolfman30/storefront-booking/migrations"
)

type recordingMigrator struct {
	calls []string
	steps int
	force int
	err   error
}

func (m *recordingMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.err
}

func (m *recordingMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = n
	return m.err
}

func (m *recordingMigrator) Force(version int) error {
	m.calls = append(m.calls, "force")
	m.force = version
	return m.err
}

func (m *recordingMigrator) Version() (uint, bool, error) { return 3, false, nil }

func TestParseCommand(t *testing.T) {
	cases := []struct {
		args []string
		want command
	}{
		{nil, command{name: "up"}},
		{[]string{"up"}, command{name: "up"}},
		{[]string{"down"}, command{name: "down", arg: 1}},
		{[]string{"down", "2"}, command{name: "down", arg: 2}},
		{[]string{"force", "3"}, command{name: "force", arg: 3}},
		{[]string{"version"}, command{name: "version"}},
	}
	for _, tc := range cases {
		got, err := parseCommand(tc.args)
		require.NoError(t, err, tc.args)
		assert.Equal(t, tc.want, got, tc.args)
	}

	for _, bad := range [][]string{{"down", "0"}, {"down", "x"}, {"force"}, {"force", "v1"}, {"sideways"}} {
		_, err := parseCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestCommandRun(t *testing.T) {
	m := &recordingMigrator{err: migrate.ErrNoChange}
	require.NoError(t, command{name: "up"}.run(m))

	m = &recordingMigrator{}
	require.NoError(t, command{name: "down", arg: 2}.run(m))
	assert.Equal(t, -2, m.steps)

	m = &recordingMigrator{}
	require.NoError(t, command{name: "force", arg: 3}.run(m))
	assert.Equal(t, 3, m.force)

	m = &recordingMigrator{}
	require.NoError(t, command{name: "version"}.run(m))
	assert.Empty(t, m.calls)

	m = &recordingMigrator{err: errors.New("dirty database")}
	assert.Error(t, command{name: "up"}.run(m))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(appmigrations.FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(appmigrations.FS, "*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
