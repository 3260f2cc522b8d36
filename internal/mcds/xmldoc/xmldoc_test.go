package xmldoc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<?xml version="1.0"?>
<MultiCellDS version="2">
  <microenvironment>
    <domain name="microenvironment">
      <mesh type="Cartesian" uniform="true" regular="true" units="micron">
        <x_coordinates delimiter=" ">0 10 20</x_coordinates>
        <bounding_box type="axis-aligned" units="micron">-5 -5 -5 25 15 5</bounding_box>
      </mesh>
    </domain>
  </microenvironment>
  <cellular_information>
    <cell_populations>
      <cell_population type="individual">
        <custom>
          <simplified_data type="matlab" source="BioFVM"><filename>x.mat</filename></simplified_data>
          <simplified_data type="matlab" source="PhysiCell"><filename>cells.mat</filename></simplified_data>
        </custom>
      </cell_population>
    </cell_populations>
  </cellular_information>
</MultiCellDS>`

func TestRequireAndFind(t *testing.T) {
	root, err := ReadBytes([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "2", root.Attr("version", ""))

	mesh, err := root.Require("microenvironment/domain/mesh")
	require.NoError(t, err)
	assert.Equal(t, "micron", mesh.Attr("units", ""))

	x, err := mesh.Require("x_coordinates")
	require.NoError(t, err)
	xs, err := x.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 20}, xs)

	bbox, err := mesh.Require("bounding_box")
	require.NoError(t, err)
	bb, err := bbox.Floats()
	require.NoError(t, err)
	assert.Len(t, bb, 6)

	_, err = mesh.Require("y_coordinates")
	require.True(t, errors.Is(err, ErrMissingNode))
	assert.Contains(t, err.Error(), "MultiCellDS/microenvironment/domain/mesh/y_coordinates")

	assert.False(t, root.Find("metadata/software").Valid())
	assert.Empty(t, root.Find("metadata/software").Text())
}

func TestAttributePredicate(t *testing.T) {
	root, err := ReadBytes([]byte(sample))
	require.NoError(t, err)

	data, err := root.Require("cellular_information/cell_populations/cell_population/custom/simplified_data[@source='PhysiCell']")
	require.NoError(t, err)
	name, err := data.Find("filename").RequireText()
	require.NoError(t, err)
	assert.Equal(t, "cells.mat", name)

	all := root.FindAll("cellular_information/cell_populations/cell_population/custom/simplified_data")
	assert.Len(t, all, 2)

	_, err = data.RequireAttr("units")
	assert.ErrorIs(t, err, ErrMissingNode)
}
