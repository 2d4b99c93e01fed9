package config

import "os"

// merge layers a file config on top of the defaults. Zero values in the file
// leave the default in place, section by section.
func (c *Config) merge(file *Config) {
	if file.Server.Port != "" {
		c.Server.Port = file.Server.Port
	}
	if file.Server.Env != "" {
		c.Server.Env = file.Server.Env
	}

	c.Engine = file.Engine

	if file.Queue.BrokerURL != "" {
		c.Queue.BrokerURL = file.Queue.BrokerURL
	}
	if file.Queue.ResultBackendURL != "" {
		c.Queue.ResultBackendURL = file.Queue.ResultBackendURL
	}
	if file.Queue.WorkerCount != 0 {
		c.Queue.WorkerCount = file.Queue.WorkerCount
	}

	if file.Store.Backend != "" {
		c.Store.Backend = file.Store.Backend
	}
	if file.Store.URI != "" {
		c.Store.URI = file.Store.URI
	}
	if file.Store.Database != "" {
		c.Store.Database = file.Store.Database
	}

	if file.Webhooks.Workers != 0 {
		c.Webhooks.Workers = file.Webhooks.Workers
	}
	if file.Webhooks.SigningSecret != "" {
		c.Webhooks.SigningSecret = file.Webhooks.SigningSecret
	}
	if file.Webhooks.DefaultURL != "" {
		c.Webhooks.DefaultURL = file.Webhooks.DefaultURL
	}
	if file.Webhooks.CloudTasksProject != "" {
		c.Webhooks.CloudTasksProject = file.Webhooks.CloudTasksProject
		c.Webhooks.CloudTasksLocation = file.Webhooks.CloudTasksLocation
		c.Webhooks.CloudTasksQueue = file.Webhooks.CloudTasksQueue
	}

	if file.Events.PubSubProject != "" {
		c.Events.PubSubProject = file.Events.PubSubProject
	}
	if file.Events.PubSubTopic != "" {
		c.Events.PubSubTopic = file.Events.PubSubTopic
	}

	if file.Stream.EnableLiveStream != nil {
		c.Stream.EnableLiveStream = file.Stream.EnableLiveStream
	}
	if file.Stream.RedisChannel != "" {
		c.Stream.RedisChannel = file.Stream.RedisChannel
	}

	c.Auth = file.Auth

	if file.RateLimit.RequestsPerMinute != 0 {
		c.RateLimit.RequestsPerMinute = file.RateLimit.RequestsPerMinute
	}
	if file.RateLimit.Burst != 0 {
		c.RateLimit.Burst = file.RateLimit.Burst
	}
}

// applyEnvOverrides applies the deployment environment on top of whatever
// the file said. Empty variables change nothing.
func (c *Config) applyEnvOverrides() {
	setIfPresent := func(target *string, key string) {
		if value := os.Getenv(key); value != "" {
			*target = value
		}
	}

	setIfPresent(&c.Server.Port, "PORT")
	setIfPresent(&c.Queue.BrokerURL, "QUEUE_BROKER_URL")
	setIfPresent(&c.Queue.ResultBackendURL, "RESULT_BACKEND_URL")
	setIfPresent(&c.Store.Backend, "ASSESSMENT_STORE_BACKEND")
	setIfPresent(&c.Store.URI, "ASSESSMENT_STORE_URI")
	setIfPresent(&c.Store.Database, "ASSESSMENT_STORE_DATABASE")
	setIfPresent(&c.Webhooks.DefaultURL, "ASSESSMENT_WEBHOOK_URL")
	setIfPresent(&c.Webhooks.SigningSecret, "WEBHOOK_SIGNING_SECRET")
	setIfPresent(&c.Webhooks.CloudTasksProject, "CLOUD_TASKS_PROJECT")
	setIfPresent(&c.Webhooks.CloudTasksLocation, "CLOUD_TASKS_LOCATION")
	setIfPresent(&c.Webhooks.CloudTasksQueue, "CLOUD_TASKS_QUEUE")
	setIfPresent(&c.Events.PubSubProject, "PUBSUB_PROJECT_ID")
	setIfPresent(&c.Events.PubSubTopic, "PUBSUB_TOPIC_ID")
	setIfPresent(&c.Stream.RedisChannel, "STREAM_REDIS_CHANNEL")
}
