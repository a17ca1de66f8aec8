// Package plantpulse classifies plant sensor readings into stress levels
// with an ONNX model.
//
// Quick start:
//
//	p, err := plantpulse.New(plantpulse.WithModelPath("models/stress_model.onnx"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	a, _ := p.Classify(ctx, map[string]any{
//	    "Soil_Moisture": 14.2, "Ambient_Temperature": 31.0, ...
//	})
//	fmt.Println(a.Label) // High Stress
//
// A Pulse is safe for concurrent use. Create once, reuse across requests.
package plantpulse
