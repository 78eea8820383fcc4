package binfit

import "testing"

// Projecting onto the channel's own single axis is an identity transform.
func TestProject_IdentityOnSingleAxis(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	values := []float64{30, 35}
	out, shape, err := Project(m, Projection{Channel: "ch0", Axes: []string{"obs"}}, values)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(shape) != 1 || shape[0] != 2 {
		t.Fatalf("shape = %v, want [2]", shape)
	}
	for i, v := range values {
		if out[i] != v {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], v)
		}
	}
}

// Projecting onto no axes collapses everything into the total.
func TestProject_SumAllAxes(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	values := []float64{30, 35}
	out, shape, err := Project(m, Projection{Channel: "ch0", Axes: nil}, values)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(shape) != 0 {
		t.Fatalf("shape = %v, want []", shape)
	}
	if len(out) != 1 || out[0] != 65 {
		t.Fatalf("out = %v, want [65]", out)
	}
}

func TestProject_UnknownChannel(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	_, _, err = Project(m, Projection{Channel: "nope", Axes: []string{"obs"}}, []float64{1, 2})
	if err == nil {
		t.Fatal("expected ProjectionError for unknown channel, got nil")
	}
}

func TestProject_UnknownAxis(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	_, _, err = Project(m, Projection{Channel: "ch0", Axes: []string{"missing"}}, []float64{1, 2})
	if err == nil {
		t.Fatal("expected ProjectionError for unknown axis, got nil")
	}
}
