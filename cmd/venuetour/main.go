// Command venuetour plans a single venue tour from the command line.
package main

import (
    "context"
    "errors"
    "flag"
    "fmt"
    "log"
    "os"
    "os/signal"

    "venuetour/internal/catalog"
    "venuetour/internal/config"
    "venuetour/internal/model"
    "venuetour/internal/opt"
)

func main() {
    if err := run(os.Args[1:]); err != nil {
        log.Printf("venuetour: %v", err)
        if errors.Is(err, opt.ErrConfiguration) { os.Exit(2) }
        os.Exit(1)
    }
}

func run(args []string) error {
    cfg, err := config.FromEnv()
    if err != nil { return err }
    p := cfg.Params()

    fs := flag.NewFlagSet("venuetour", flag.ContinueOnError)
    catalogPath := fs.String("catalog", cfg.Catalog.Path, "venue catalog file (.yaml or .csv); empty uses the built-in catalog")
    fs.IntVar(&p.PopulationSize, "population", p.PopulationSize, "population size")
    fs.IntVar(&p.Generations, "generations", p.Generations, "number of generations")
    fs.Float64Var(&p.MutationRate, "mutation", p.MutationRate, "per-position swap probability")
    fs.IntVar(&p.TournamentSize, "tournament", p.TournamentSize, "tournament size")
    fs.Float64Var(&p.Criteria.MinRating, "min-rating", p.Criteria.MinRating, "minimum venue rating")
    fs.Float64Var(&p.Criteria.MaxPrice, "max-price", p.Criteria.MaxPrice, "maximum venue price")
    fs.Int64Var(&p.Seed, "seed", 0, "random seed; 0 picks one from the clock")
    fs.IntVar(&p.Workers, "workers", p.Workers, "fitness evaluation goroutines")
    quiet := fs.Bool("quiet", false, "suppress per-generation progress")
    if err := fs.Parse(args); err != nil { return err }

    var venues []model.Venue
    if *catalogPath == "" {
        venues = catalog.Default()
    } else if venues, err = catalog.LoadFile(*catalogPath); err != nil {
        return err
    }

    var observe opt.Observer
    if !*quiet { observe = opt.ProgressLogger(log.Printf) }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
    defer stop()
    sol, m, err := opt.Solve(ctx, venues, p, observe)
    if err != nil { return err }

    fmt.Println("Best Route:")
    for _, v := range sol.Route() {
        fmt.Printf("%s - Rating: %v, Price: %v\n", v.Name, v.Rating, v.Price)
    }
    fmt.Printf("Best Fitness: %v\n", sol.Fitness)
    if !*quiet {
        log.Printf("seed=%d venues=%d evaluations=%d elapsed=%v", m.Seed, m.FilteredVenues, m.Evaluations, m.Elapsed)
    }
    return nil
}
