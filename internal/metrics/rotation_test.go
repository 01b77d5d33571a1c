package metrics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestRotationMSERecoversAffineMap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 40
	pred := mat.NewDense(n, 2, nil)
	truth := mat.NewDense(n, 2, nil)
	theta := 0.7
	for i := 0; i < n; i++ {
		x, y := rng.NormFloat64(), rng.NormFloat64()
		pred.Set(i, 0, x)
		pred.Set(i, 1, y)
		truth.Set(i, 0, 2*(math.Cos(theta)*x-math.Sin(theta)*y)+0.5)
		truth.Set(i, 1, 2*(math.Sin(theta)*x+math.Cos(theta)*y)-1)
	}
	rot, err := RotationMSE(pred, truth, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, rot.SSE, 1e-12)
	assert.True(t, mat.EqualApprox(rot.Paths, truth, 1e-9))
	assert.InDelta(t, 0.5, rot.W.At(2, 0), 1e-9)
	assert.InDelta(t, -1, rot.W.At(2, 1), 1e-9)
	assert.Nil(t, rot.Cov)
}

func TestRotationMSECovariance(t *testing.T) {
	pred := mat.NewDense(4, 2, []float64{0, 0, 1, 0, 0, 1, 1, 1})
	// truth = 3 * pred, so W₂ = 3I and covariances scale by 9
	truth := mat.NewDense(4, 2, []float64{0, 0, 3, 0, 0, 3, 3, 3})
	variance := mat.NewDense(4, 2, []float64{1, 2, 1, 2, 1, 2, 1, 2})
	rot, err := RotationMSE(pred, truth, variance)
	require.NoError(t, err)
	require.Len(t, rot.Cov, 4)
	assert.InDelta(t, 9, rot.Cov[0].At(0, 0), 1e-9)
	assert.InDelta(t, 18, rot.Cov[0].At(1, 1), 1e-9)
	assert.InDelta(t, 0, rot.Cov[0].At(0, 1), 1e-9)
}

func TestRotationMSESkewedCovariance(t *testing.T) {
	pred := mat.NewDense(4, 2, []float64{0, 0, 1, 0, 0, 1, 1, 1})
	// truth = pred W₂ with W₂ = [[1 2] [0 1]]
	truth := mat.NewDense(4, 2, []float64{0, 0, 1, 2, 0, 1, 1, 3})
	variance := mat.NewDense(4, 2, []float64{1, 4, 1, 4, 1, 4, 1, 4})
	rot, err := RotationMSE(pred, truth, variance)
	require.NoError(t, err)
	assert.InDelta(t, 0, rot.SSE, 1e-12)

	rows := rot.CovRows()
	r, c := rows.Dims()
	require.Equal(t, [2]int{4, 3}, [2]int{r, c})
	for i := 0; i < r; i++ {
		assert.InDeltaSlice(t, []float64{1, 2, 8}, mat.Row(nil, i, rows), 1e-9)
	}
}

func TestCovRowsWithoutVariance(t *testing.T) {
	pred := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 1})
	rot, err := RotationMSE(pred, pred, nil)
	require.NoError(t, err)
	assert.Nil(t, rot.CovRows())
}

func TestRotationMSEResidual(t *testing.T) {
	pred := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 1})
	truth := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 1})
	// a fourth point off the affine map leaves a residual
	pred4 := mat.NewDense(4, 2, []float64{0, 0, 1, 0, 0, 1, 1, 1})
	truth4 := mat.NewDense(4, 2, []float64{0, 0, 1, 0, 0, 1, 2, 2})
	exact, err := RotationMSE(pred, truth, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, exact.SSE, 1e-12)
	fit, err := RotationMSE(pred4, truth4, nil)
	require.NoError(t, err)
	assert.Greater(t, fit.SSE, 0.1)
}

func TestRotationMSEShape(t *testing.T) {
	_, err := RotationMSE(mat.NewDense(3, 2, nil), mat.NewDense(4, 2, nil), nil)
	assert.True(t, errors.Is(err, ErrShape))
}

func TestRangeAndMeanStd(t *testing.T) {
	lo, hi := Range(mat.NewDense(2, 2, []float64{3, -1, 7, 0}))
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 7.0, hi)

	mean, std := MeanStd([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), std, 1e-12)

	mean, _ = MeanStd(nil)
	assert.True(t, math.IsNaN(mean))
}
