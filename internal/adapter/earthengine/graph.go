// Package earthengine submits the monthly nighttime-lights composite as an
// Earth Engine image export over the REST v1 API. The export is a side job:
// its output is never read back by the pipeline.
package earthengine

import (
	"strconv"
)

// Expression is a serialized Earth Engine computation graph.
type Expression struct {
	Values map[string]ValueNode `json:"values"`
	Result string               `json:"result"`
}

// ValueNode is one node of an Expression. Exactly one field is set.
type ValueNode struct {
	ConstantValue           any                 `json:"constantValue,omitempty"`
	ArrayValue              *ArrayValue         `json:"arrayValue,omitempty"`
	FunctionInvocationValue *FunctionInvocation `json:"functionInvocationValue,omitempty"`
	FunctionDefinitionValue *FunctionDefinition `json:"functionDefinitionValue,omitempty"`
	ArgumentReference       string              `json:"argumentReference,omitempty"`
	ValueReference          string              `json:"valueReference,omitempty"`
}

type ArrayValue struct {
	Values []ValueNode `json:"values"`
}

type FunctionInvocation struct {
	FunctionName string               `json:"functionName"`
	Arguments    map[string]ValueNode `json:"arguments,omitempty"`
}

type FunctionDefinition struct {
	ArgumentNames []string `json:"argumentNames"`
	Body          string   `json:"body"`
}

// graph interns value nodes so function bodies can refer to them by key.
type graph struct {
	values map[string]ValueNode
}

func newGraph() *graph {
	return &graph{values: make(map[string]ValueNode)}
}

func (g *graph) add(n ValueNode) ValueNode {
	key := strconv.Itoa(len(g.values))
	g.values[key] = n
	return ValueNode{ValueReference: key}
}

// expression finalizes the graph with result as its output value.
func (g *graph) expression(result ValueNode) *Expression {
	key := strconv.Itoa(len(g.values))
	g.values[key] = result
	return &Expression{Values: g.values, Result: key}
}

func call(name string, args map[string]ValueNode) ValueNode {
	return ValueNode{FunctionInvocationValue: &FunctionInvocation{
		FunctionName: name,
		Arguments:    args,
	}}
}

func constant(v any) ValueNode {
	return ValueNode{ConstantValue: v}
}

func array(values ...ValueNode) ValueNode {
	return ValueNode{ArrayValue: &ArrayValue{Values: values}}
}

func argument(name string) ValueNode {
	return ValueNode{ArgumentReference: name}
}

// lambda registers body under the graph and returns a one-argument function.
func (g *graph) lambda(arg string, body ValueNode) ValueNode {
	ref := g.add(body)
	return ValueNode{FunctionDefinitionValue: &FunctionDefinition{
		ArgumentNames: []string{arg},
		Body:          ref.ValueReference,
	}}
}

// compositeExpression builds:
//
//	ImageCollection(collection).filterDate(start, end).select(band)
//	  .map(img -> img.reduceResolution(mean, maxPixels).reproject(crs, scale)
//	                 .clip(region).set(system:time_start))
//	  .toBands()
func compositeExpression(s ExportSpec) *Expression {
	g := newGraph()

	region := g.add(call("GeometryConstructors.Rectangle", map[string]ValueNode{
		"coordinates": constant([]float64{s.Region.LonMin, s.Region.LatMin, s.Region.LonMax, s.Region.LatMax}),
		"geodesic":    constant(false),
	}))

	coll := call("ImageCollection.load", map[string]ValueNode{
		"id": constant(s.Collection),
	})
	coll = call("Collection.filter", map[string]ValueNode{
		"collection": coll,
		"filter": call("Filter.dateRangeContains", map[string]ValueNode{
			"leftValue": call("DateRange", map[string]ValueNode{
				"start": constant(s.Start.Format("2006-01-02")),
				"end":   constant(s.End.Format("2006-01-02")),
			}),
			"rightField": constant("system:time_start"),
		}),
	})

	const img = "_MAPPING_VAR_0_0"
	perImage := call("Image.select", map[string]ValueNode{
		"input":         argument(img),
		"bandSelectors": array(constant(s.Band)),
	})
	perImage = call("Image.reduceResolution", map[string]ValueNode{
		"image":     perImage,
		"reducer":   call("Reducer.mean", nil),
		"maxPixels": constant(s.ReduceMaxPixels),
	})
	perImage = call("Image.reproject", map[string]ValueNode{
		"image": perImage,
		"crs":   call("Projection", map[string]ValueNode{"crs": constant(s.CRS)}),
		"scale": constant(s.ScaleMeters),
	})
	perImage = call("Image.clip", map[string]ValueNode{
		"input":    perImage,
		"geometry": region,
	})
	perImage = call("Element.set", map[string]ValueNode{
		"object": perImage,
		"key":    constant("system:time_start"),
		"value": call("Element.get", map[string]ValueNode{
			"object":   argument(img),
			"property": constant("system:time_start"),
		}),
	})

	coll = call("Collection.map", map[string]ValueNode{
		"collection":    coll,
		"baseAlgorithm": g.lambda(img, perImage),
	})
	return g.expression(call("ImageCollection.toBands", map[string]ValueNode{
		"collection": coll,
	}))
}
