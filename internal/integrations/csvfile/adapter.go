package csvfile

import (
    "context"
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "os"
    "strconv"
    "strings"

    "venuetour/internal/model"
)

// Adapter reads a venue catalog from a CSV file with the columns
// name,x,y,rating,price. A header row is detected and skipped.
type Adapter struct {
    Path string
}

func (a Adapter) Name() string { return "csv-file" }

func (a Adapter) FetchVenues(ctx context.Context) ([]model.Venue, error) {
    if err := ctx.Err(); err != nil {
        return nil, err
    }
    f, err := os.Open(a.Path)
    if err != nil {
        return nil, err
    }
    defer f.Close()
    return Parse(f)
}

// Parse decodes CSV venue rows.
func Parse(r io.Reader) ([]model.Venue, error) {
    cr := csv.NewReader(r)
    cr.FieldsPerRecord = 5
    cr.TrimLeadingSpace = true
    var out []model.Venue
    line := 0
    for {
        rec, err := cr.Read()
        if errors.Is(err, io.EOF) {
            break
        }
        if err != nil {
            return nil, err
        }
        line++
        if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "name") {
            continue
        }
        v, err := parseRecord(rec)
        if err != nil {
            return nil, fmt.Errorf("csv line %d: %w", line, err)
        }
        out = append(out, v)
    }
    return out, nil
}

func parseRecord(rec []string) (model.Venue, error) {
    nums := make([]float64, 4)
    for i, field := range rec[1:] {
        f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
        if err != nil {
            return model.Venue{}, err
        }
        nums[i] = f
    }
    return model.Venue{
        Name:     rec[0],
        Location: model.Point{X: nums[0], Y: nums[1]},
        Rating:   nums[2],
        Price:    nums[3],
    }, nil
}
