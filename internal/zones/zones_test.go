package zones

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/uwb.follow/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

var ignoreID = cmpopts.IgnoreFields(Zone{}, "ID")

func TestZone_Validate(t *testing.T) {
	tests := []struct {
		name string
		zone Zone
		want error
	}{
		{"valid", Zone{Name: "sofa", Angle: -20, Distance: 1.5, Volume: 70}, nil},
		{"volume bounds", Zone{Name: "a", Volume: 0}, nil},
		{"volume max", Zone{Name: "a", Volume: 100}, nil},
		{"empty name", Zone{Name: "  ", Volume: 50}, ErrEmptyName},
		{"volume high", Zone{Name: "a", Volume: 101}, ErrVolumeRange},
		{"volume low", Zone{Name: "a", Volume: -1}, ErrVolumeRange},
		{"negative distance", Zone{Name: "a", Distance: -0.1}, ErrDistanceRange},
		{"nan distance", Zone{Name: "a", Distance: math.NaN()}, ErrDistanceRange},
		{"inf angle", Zone{Name: "a", Angle: math.Inf(1)}, ErrAngleNotFinite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.zone.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestTolerance_Contains(t *testing.T) {
	z := Zone{Name: "A", Angle: 90, Distance: 1.0, Volume: 70}
	tol := DefaultTolerance

	assert.True(t, tol.Contains(z, 91, 1.05))
	assert.True(t, tol.Contains(z, 95, 1.0), "angle bound is inclusive")
	assert.True(t, tol.Contains(z, 85, 0.95))
	assert.False(t, tol.Contains(z, 95.1, 1.0))
	assert.False(t, tol.Contains(z, 90, 1.2))
	assert.False(t, tol.Contains(z, 10, 5.0))
}

func TestFirstMatch_OrderNotProximity(t *testing.T) {
	zs := []Zone{
		{Name: "far", Angle: 86, Distance: 1.0, Volume: 40},
		{Name: "near", Angle: 90, Distance: 1.0, Volume: 80},
	}
	z, ok := FirstMatch(zs, DefaultTolerance, 90, 1.0)
	require.True(t, ok)
	assert.Equal(t, "far", z.Name, "first listed zone wins even when another is closer")

	_, ok = FirstMatch(zs, DefaultTolerance, 0, 0)
	assert.False(t, ok)
}

func TestMemoryRepository_AddListMatch(t *testing.T) {
	r := NewMemoryRepository(DefaultTolerance)

	a, err := r.Add(Zone{Name: "A", Angle: 90, Distance: 1.0, Volume: 70})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	_, err = r.Add(Zone{Name: "B", Angle: -30, Distance: 2.0, Volume: 30})
	require.NoError(t, err)

	_, err = r.Add(Zone{Name: "bad", Volume: 200})
	assert.ErrorIs(t, err, ErrVolumeRange)

	got, err := r.List()
	require.NoError(t, err)
	want := []Zone{
		{Name: "A", Angle: 90, Distance: 1.0, Volume: 70},
		{Name: "B", Angle: -30, Distance: 2.0, Volume: 30},
	}
	if diff := cmp.Diff(want, got, ignoreID); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	z, ok, err := r.Match(91, 1.05)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", z.Name)

	_, ok, err = r.Match(10, 5.0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRepository_DuplicateNames(t *testing.T) {
	r := NewMemoryRepository(DefaultTolerance)
	_, _ = r.Add(Zone{Name: "dup", Angle: 0, Distance: 1, Volume: 10})
	_, _ = r.Add(Zone{Name: "keep", Angle: 45, Distance: 1, Volume: 20})
	_, _ = r.Add(Zone{Name: "dup", Angle: 0, Distance: 1, Volume: 90})

	z, ok, _ := r.Match(0, 1)
	require.True(t, ok)
	assert.Equal(t, 10, z.Volume)

	require.NoError(t, r.Remove("dup"))
	got, _ := r.List()
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].Name)
}

func TestMemoryRepository_RemoveMissingIsNoop(t *testing.T) {
	r := NewMemoryRepository(DefaultTolerance)
	_, _ = r.Add(Zone{Name: "A", Angle: 90, Distance: 1.0, Volume: 70})
	before, _ := r.List()

	require.NoError(t, r.Remove("does-not-exist"))

	after, _ := r.List()
	assert.Equal(t, before, after)
}

func TestMemoryRepository_ListIsACopy(t *testing.T) {
	r := NewMemoryRepository(DefaultTolerance)
	_, _ = r.Add(Zone{Name: "A", Volume: 1})

	got, _ := r.List()
	got[0].Name = "mutated"

	again, _ := r.List()
	assert.Equal(t, "A", again[0].Name)
}

func TestMemoryRepository_SaveFailureRollsBack(t *testing.T) {
	r := NewMemoryRepository(DefaultTolerance)
	_, _ = r.Add(Zone{Name: "A", Volume: 1})
	boom := errors.New("disk full")
	r.save = func([]Zone) error { return boom }

	_, err := r.Add(Zone{Name: "B", Volume: 2})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, r.Remove("A"), boom)

	got, _ := r.List()
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Name)
}
