package vitals

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validBatch() *Batch {
	return &Batch{
		SessionID: "s-55ff333eee",
		Timestamp: 1720000000000,
		Metrics: []Metric{
			{Name: "LCP", Value: 1800, Rating: RatingGood, Timestamp: 1719999999000, URL: "https://www.example.com/"},
			{Name: "CLS", Value: 0.3, Rating: RatingPoor, Timestamp: 1719999999100, URL: "https://www.example.com/"},
		},
	}
}

func TestBatchMarshaling(t *testing.T) {
	batch := validBatch()
	marshaled, err := json.Marshal(batch)
	assert.NoError(t, err)

	result := &Batch{}
	err = json.Unmarshal(marshaled, result)
	assert.NoError(t, err)
	assert.Equal(t, batch, result)
}

func TestBatchValidate(t *testing.T) {
	assert.NoError(t, validBatch().Validate())

	b := validBatch()
	b.Metrics = nil
	assert.Error(t, b.Validate())

	b = validBatch()
	b.SessionID = ""
	assert.Error(t, b.Validate())

	b = validBatch()
	b.Timestamp = 0
	assert.Error(t, b.Validate())
}

func TestBatchValidateRejectsBadElements(t *testing.T) {
	b := validBatch()
	b.Metrics[1].Rating = "invalid"
	assert.Error(t, b.Validate(), "unknown ratings must be rejected")

	b = validBatch()
	b.Metrics[0].URL = "not a url"
	assert.Error(t, b.Validate(), "relative urls must be rejected")

	b = validBatch()
	b.Metrics[0].Name = ""
	assert.Error(t, b.Validate())
}

func TestFirstPoor(t *testing.T) {
	b := validBatch()
	poor := b.FirstPoor()
	assert.NotNil(t, poor)
	assert.Equal(t, "CLS", poor.Name)

	b.Metrics[1].Rating = RatingGood
	assert.Nil(t, b.FirstPoor())
}

func TestRateValue(t *testing.T) {
	assert.Equal(t, RatingGood, RateValue("LCP", 2500))
	assert.Equal(t, RatingNeedsImprovement, RateValue("LCP", 3000))
	assert.Equal(t, RatingPoor, RateValue("LCP", 4001))
	assert.Equal(t, RatingPoor, RateValue("CLS", 0.4))
	assert.Equal(t, RatingGood, RateValue("customSignal", 1e9))
}
