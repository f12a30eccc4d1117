package domain

import "fmt"

// jobTypeInfo holds everything that varies by job type. Adding a JobType
// without an entry here fails at init.
type jobTypeInfo struct {
	queue       string
	extension   string
	contentType string
}

var jobTypeTable = map[JobType]jobTypeInfo{
	JobTypeConvertToPDF: {queue: QueueDocumentProcessing, extension: "pdf", contentType: "application/pdf"},
	JobTypeResizeImage:  {queue: QueueImageProcessing, extension: "jpg", contentType: "image/jpeg"},
	JobTypeAddWatermark: {queue: QueueImageProcessing, extension: "jpg", contentType: "image/jpeg"},
	JobTypeConvertToJPG: {queue: QueueImageProcessing, extension: "jpg", contentType: "image/jpeg"},
	JobTypeConvertToPNG: {queue: QueueImageProcessing, extension: "png", contentType: "image/png"},
}

func init() {
	for _, t := range AllJobTypes() {
		info, ok := jobTypeTable[t]
		if !ok || info.queue == "" || info.extension == "" || info.contentType == "" {
			panic(fmt.Sprintf("domain: job type %q has no routing entry", t))
		}
	}
	if len(jobTypeTable) != len(AllJobTypes()) {
		panic("domain: routing table lists a job type missing from AllJobTypes")
	}
}

// Queue returns the name of the queue that carries jobs of type t.
func (t JobType) Queue() string { return jobTypeTable[t].queue }

// Extension returns the result file extension for t, without the dot.
func (t JobType) Extension() string { return jobTypeTable[t].extension }

// ContentType returns the MIME type of results produced for t.
func (t JobType) ContentType() string { return jobTypeTable[t].contentType }

// Queues returns the distinct queue names in first-seen order.
func Queues() []string {
	seen := make(map[string]struct{})
	var queues []string
	for _, t := range AllJobTypes() {
		q := t.Queue()
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		queues = append(queues, q)
	}
	return queues
}

// JobTypesForQueue returns the job types routed to queue.
func JobTypesForQueue(queue string) []JobType {
	var types []JobType
	for _, t := range AllJobTypes() {
		if t.Queue() == queue {
			types = append(types, t)
		}
	}
	return types
}

// ResultLocation is the deterministic location of a job's result.
func ResultLocation(jobID string, t JobType) string {
	return fmt.Sprintf("%s.%s", jobID, t.Extension())
}
