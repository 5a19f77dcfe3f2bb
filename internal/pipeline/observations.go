package pipeline

import (
	"fmt"

	"fvfm-analyzer/internal/fluor"
	"fvfm-analyzer/internal/processing/objects"
	"fvfm-analyzer/internal/results"
)

func shapeObservations(s objects.Shape) []results.Observation {
	return []results.Observation{
		{Variable: "area", Trait: "area", Method: "count of pixels", Scale: "pixels", Datatype: "int", Value: int(s.Area), Label: "pixels"},
		{Variable: "convex_hull_area", Trait: "convex hull area", Method: "area of convex hull", Scale: "pixels", Datatype: "float", Value: s.ConvexHullArea, Label: "pixels"},
		{Variable: "solidity", Trait: "solidity", Method: "ratio of object area to convex hull area", Scale: "none", Datatype: "float", Value: s.Solidity, Label: "none"},
		{Variable: "perimeter", Trait: "perimeter", Method: "sum of contour arc lengths", Scale: "pixels", Datatype: "float", Value: s.Perimeter, Label: "pixels"},
		{Variable: "width", Trait: "width", Method: "bounding box width", Scale: "pixels", Datatype: "int", Value: s.Width, Label: "pixels"},
		{Variable: "height", Trait: "height", Method: "bounding box height", Scale: "pixels", Datatype: "int", Value: s.Height, Label: "pixels"},
		{Variable: "center_of_mass", Trait: "center of mass", Method: "image moments", Scale: "none", Datatype: "tuple", Value: []float64{s.CenterX, s.CenterY}, Label: []string{"x", "y"}},
		{Variable: "object_count", Trait: "object count", Method: "kept objects in the region of interest", Scale: "none", Datatype: "int", Value: s.ObjectCount, Label: "none"},
	}
}

func fvfmObservations(a *fluor.Analysis) []results.Observation {
	return []results.Observation{
		{Variable: "fdark_passed_qc", Trait: "Fdark passed QC", Method: fmt.Sprintf("maximum Fdark below %d", fluor.FdarkQCLimit), Scale: "none", Datatype: "bool", Value: a.FdarkPassedQC, Label: "none"},
		{Variable: "fvfm_hist", Trait: "Fv/Fm frequencies", Method: "histogram of non-zero Fv/Fm values", Scale: "none", Datatype: "list", Value: a.Histogram.Counts, Label: a.Histogram.Midpoints()},
		{Variable: "fvfm_hist_peak", Trait: "peak Fv/Fm value", Method: "midpoint of the fullest histogram bin", Scale: "none", Datatype: "float", Value: a.Histogram.Peak(), Label: "none"},
		{Variable: "fvfm_median", Trait: "Fv/Fm median", Method: "median of non-zero Fv/Fm values", Scale: "none", Datatype: "float", Value: a.Median, Label: "none"},
		{Variable: "fvfm_mean", Trait: "Fv/Fm mean", Method: "mean of non-zero Fv/Fm values", Scale: "none", Datatype: "float", Value: a.Mean, Label: "none"},
		{Variable: "fvfm_std", Trait: "Fv/Fm standard deviation", Method: "sample standard deviation of non-zero Fv/Fm values", Scale: "none", Datatype: "float", Value: a.StdDev, Label: "none"},
		{Variable: "fvfm_pixel_count", Trait: "measured pixels", Method: "count of non-zero Fv/Fm values", Scale: "pixels", Datatype: "int", Value: a.PixelCount, Label: "pixels"},
	}
}
