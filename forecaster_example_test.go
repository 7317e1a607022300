package forecaster

import (
	"context"
	"fmt"
	"time"

	"github.com/aouyang1/go-outbreak-forecaster/observation"
)

func ExampleForecaster_Run() {
	obs := []observation.Observation{
		{Disease: "cholera", Region: "coast", Year: 2018, CaseCount: 10},
		{Disease: "cholera", Region: "coast", Year: 2019, CaseCount: 0},
		{Disease: "cholera", Region: "coast", Year: 2021, CaseCount: 30},
		{Disease: "anthrax", Region: "rift", Year: 2021, CaseCount: 2},
	}

	opt := NewDefaultOptions()
	opt.Horizon = 3
	opt.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	// a nil publisher computes runs without persisting them
	f, err := New(opt, nil)
	if err != nil {
		panic(err)
	}
	res, err := f.Run(context.Background(), obs)
	if err != nil {
		panic(err)
	}

	for _, r := range res.Runs {
		fmt.Printf("%s %s\n", r.Key(), r.Method)
		for _, p := range r.Historical.Points {
			fmt.Printf("  %d %.0f imputed=%t\n", p.Year, p.Value, p.Imputed)
		}
		fmt.Printf("  forecast %d-%d\n", r.Forecast[0].Year, r.Forecast[len(r.Forecast)-1].Year)
	}
	for _, fl := range res.Failures {
		fmt.Printf("%s failed at %s\n", fl.Key, fl.Stage)
	}
	// Output:
	// cholera/coast holt-linear
	//   2018 10 imputed=false
	//   2019 0 imputed=false
	//   2020 15 imputed=true
	//   2021 30 imputed=false
	//   forecast 2022-2024
	// anthrax/rift failed at build
}
