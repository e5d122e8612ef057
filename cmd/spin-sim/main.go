package main

import (
	"flag"
	"fmt"
	"math"
	mrand "math/rand"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"taoo-rewards/internal/config"
	"taoo-rewards/internal/lottery"
)

func main() {
	n := flag.Int("n", 100000, "number of draws")
	wheelPath := flag.String("wheel", "", "wheel YAML file (default: built-in table)")
	seed := flag.Int64("seed", 0, "random seed (0 picks one from the clock)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	segments, err := config.LoadWheel(*wheelPath)
	if err != nil {
		logger.Fatal("load wheel", zap.Error(err))
	}
	if *n <= 0 {
		logger.Fatal("n must be positive", zap.Int("n", *n))
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	engine := lottery.NewEngineWithSource(mrand.NewSource(*seed))
	counts := make([]int, len(segments))
	var paid int64
	for i := 0; i < *n; i++ {
		res := engine.Draw(segments)
		counts[res.Index]++
		paid += res.Value
	}

	var expectedValue float64
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "slot\tvalue\tangle\texpected\tobserved\tdelta\t")
	for i, seg := range segments {
		observed := float64(counts[i]) / float64(*n)
		expectedValue += float64(seg.Value) * seg.Probability
		fmt.Fprintf(w, "%d\t%d\t%.0f\t%.4f\t%.4f\t%+.4f\t\n",
			i, seg.Value, seg.Angle, seg.Probability, observed, observed-seg.Probability)
	}
	w.Flush()

	mean := float64(paid) / float64(*n)
	fmt.Printf("\ndraws=%d seed=%d\n", *n, *seed)
	if expectedValue == 0 {
		fmt.Printf("mean payout %.2f pts\n", mean)
		return
	}
	fmt.Printf("mean payout %.2f pts (expected %.2f, off by %.2f%%)\n",
		mean, expectedValue, 100*math.Abs(mean-expectedValue)/expectedValue)
}
