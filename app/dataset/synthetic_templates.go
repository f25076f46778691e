package dataset

type incidentTemplate struct {
	Scenario string
	Error    string
	Category string
}

type incidentGroup struct {
	Technology string
	Templates  []incidentTemplate
}

type reviewTemplate struct {
	Code string
	Bug  string
}

type reviewGroup struct {
	Category    string
	Description string
	Templates   []reviewTemplate
}

var incidentGroups = []incidentGroup{
	{Technology: "kubernetes", Templates: []incidentTemplate{
		{
			Scenario: "Pod CrashLoopBackOff",
			Error: `kubectl get pods
NAME                        READY   STATUS             RESTARTS   AGE
api-server-7d4b8c6f5-x2k9m  0/1     CrashLoopBackOff   5          10m

kubectl logs api-server-7d4b8c6f5-x2k9m
Error: Cannot find module '/app/server.js'`,
			Category: "pod_failure",
		},
		{
			Scenario: "OOMKilled container",
			Error: `kubectl describe pod worker-5f7b8d9c4-abc12
State:          Terminated
Reason:         OOMKilled
Exit Code:      137
Restart Count:  8

Events:
  Warning  OOMKilled  Container exceeded memory limit (512Mi)`,
			Category: "resource",
		},
		{
			Scenario: "ImagePullBackOff",
			Error: `kubectl get pods
NAME                     READY   STATUS             RESTARTS   AGE
web-6c9f8d7b5-qwert      0/1     ImagePullBackOff   0          3m

Failed to pull image "registry.example.com/web:1.4.2": rpc error: code = Unknown desc = failed to resolve reference: pull access denied`,
			Category: "image",
		},
	}},
	{Technology: "docker", Templates: []incidentTemplate{
		{
			Scenario: "Port already allocated",
			Error: `docker run -p 3000:3000 myapp
docker: Error response from daemon: driver failed programming external connectivity on endpoint myapp: Bind for 0.0.0.0:3000 failed: port is already allocated.`,
			Category: "networking",
		},
		{
			Scenario: "No space left on device during build",
			Error: `docker build -t api .
Step 6/12 : RUN npm ci
npm ERR! code ENOSPC
npm ERR! syscall write
npm ERR! errno -28
npm ERR! nospc ENOSPC: no space left on device, write`,
			Category: "storage",
		},
	}},
	{Technology: "terraform", Templates: []incidentTemplate{
		{
			Scenario: "State lock held",
			Error: `terraform apply
Error: Error acquiring the state lock

Error message: ConditionalCheckFailedException: The conditional request failed
Lock Info:
  ID:        8f1c2d3e-4b5a-6c7d-8e9f-0a1b2c3d4e5f
  Path:      prod-tfstate/network/terraform.tfstate
  Operation: OperationTypeApply
  Who:       ci@runner-42`,
			Category: "state",
		},
		{
			Scenario: "Provider version conflict",
			Error: `terraform init
Error: Failed to query available provider packages

Could not retrieve the list of available versions for provider hashicorp/aws: locked provider registry.terraform.io/hashicorp/aws 4.67.0 does not match configured version constraint >= 5.0.0`,
			Category: "provider",
		},
	}},
	{Technology: "nodejs", Templates: []incidentTemplate{
		{
			Scenario: "Address in use",
			Error: `node server.js
node:events:497
      throw er; // Unhandled 'error' event
      ^

Error: listen EADDRINUSE: address already in use :::3000`,
			Category: "networking",
		},
		{
			Scenario: "Heap out of memory",
			Error: `<--- Last few GCs --->
[1:0x5a3c2e0]   120341 ms: Mark-Compact 2046.9 (2083.4) -> 2045.7 (2083.9) MB

FATAL ERROR: Reached heap limit Allocation failed - JavaScript heap out of memory`,
			Category: "resource",
		},
	}},
	{Technology: "postgresql", Templates: []incidentTemplate{
		{
			Scenario: "Too many connections",
			Error: `psql: error: connection to server at "db.internal" (10.0.0.5), port 5432 failed: FATAL:  sorry, too many clients already`,
			Category: "connections",
		},
		{
			Scenario: "Replication lag",
			Error: `SELECT client_addr, state, sent_lsn, replay_lsn, replay_lag FROM pg_stat_replication;
 client_addr | state     | sent_lsn  | replay_lsn | replay_lag
 10.0.0.2    | catchup   | 0/5000000 | 0/3000000  | 02:30:00`,
			Category: "replication",
		},
	}},
	{Technology: "redis", Templates: []incidentTemplate{
		{
			Scenario: "Maxmemory reached",
			Error: `redis-cli SET session:123 "..."
(error) OOM command not allowed when used memory > 'maxmemory'.`,
			Category: "resource",
		},
	}},
	{Technology: "nginx", Templates: []incidentTemplate{
		{
			Scenario: "Upstream connection refused",
			Error: `2024/01/15 10:30:00 [error] 1234#1234: *1 connect() failed (111: Connection refused) while connecting to upstream, client: 10.0.0.1, server: example.com, request: "GET / HTTP/1.1", upstream: "http://127.0.0.1:3000/", host: "example.com"`,
			Category: "upstream",
		},
		{
			Scenario: "Request entity too large",
			Error: `POST /api/upload HTTP/1.1
HTTP/1.1 413 Request Entity Too Large
Server: nginx/1.24.0

2024/01/15 11:02:13 [error] 88#88: *412 client intended to send too large body: 15728640 bytes`,
			Category: "configuration",
		},
	}},
}

var reviewGroups = []reviewGroup{
	{Category: "null_access", Description: "Accessing attribute on potentially None value", Templates: []reviewTemplate{
		{
			Code: `def get_user_email(user_id):
    user = db.query(User).filter_by(id=user_id).first()
    return user.email`,
			Bug: "No null check before accessing .email",
		},
		{
			Code: `def get_config_value(key):
    config = load_config().get(key)
    return config.value`,
			Bug: "No null check - .get() can return None",
		},
	}},
	{Category: "missing_error_handling", Description: "No try/except around operations that can fail", Templates: []reviewTemplate{
		{
			Code: `def read_json_file(filepath):
    with open(filepath) as f:
        return json.load(f)`,
			Bug: "No handling for FileNotFoundError or JSONDecodeError",
		},
		{
			Code: `def fetch_api_data(url):
    response = requests.get(url)
    return response.json()`,
			Bug: "No handling for network errors or invalid JSON",
		},
	}},
	{Category: "resource_leak", Description: "Resources opened without being closed", Templates: []reviewTemplate{
		{
			Code: `def count_lines(path):
    f = open(path)
    return len(f.readlines())`,
			Bug: "File handle is never closed",
		},
	}},
	{Category: "mutable_default", Description: "Mutable default argument shared between calls", Templates: []reviewTemplate{
		{
			Code: `def add_tag(tag, tags=[]):
    tags.append(tag)
    return tags`,
			Bug: "Default list is shared across calls",
		},
	}},
	{Category: "sql_injection", Description: "User input interpolated into SQL", Templates: []reviewTemplate{
		{
			Code: `def find_orders(customer):
    query = f"SELECT * FROM orders WHERE customer = '{customer}'"
    return cursor.execute(query).fetchall()`,
			Bug: "String formatting in SQL allows injection",
		},
	}},
	{Category: "off_by_one", Description: "Loop bounds skip or overrun elements", Templates: []reviewTemplate{
		{
			Code: `def last_items(items, n):
    result = []
    for i in range(len(items) - n, len(items) - 1):
        result.append(items[i])
    return result`,
			Bug: "Range end excludes the final element",
		},
	}},
}
