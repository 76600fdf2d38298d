package sqlinline

// Column order shared by every query that returns a full video job row.
const videoJobColumns = `id, listing_id, room_id, input_json, status, provider_used, provider_handle,
       attempt, video_url, thumbnail_url, error_message, created_at, updated_at`

const QInsertVideoJob = `--sql c4effb2e-d5eb-4271-9bb9-e9d75f01ca11
insert into video_jobs (id, listing_id, room_id, input_json, status, attempt, created_at, updated_at)
values ($1::text, $2::text, nullif($3::text, ''), $4::jsonb, $5::text, 0, now(), now())
returning created_at, updated_at;
`

const QSelectVideoJob = `--sql cf3b0d6c-b64d-4ca3-9715-79a67fc233cb
select ` + videoJobColumns + `
from video_jobs
where id = $1::text;
`

const QSelectVideoJobByHandle = `--sql 2160b4fc-774b-4310-a8f8-d5d08cfbd563
select ` + videoJobColumns + `
from video_jobs
where provider_used = $1::text
  and provider_handle = $2::text
limit 1;
`

const QMarkVideoJobDispatched = `--sql 72437167-8cab-4ce3-adab-1c6e674aee0f
update video_jobs
set status = 'dispatched',
    provider_used = $2::text,
    provider_handle = $3::text,
    attempt = $4::int,
    error_message = null,
    updated_at = now()
where id = $1::text
  and status = 'pending';
`

const QRecordVideoJobDispatchFailure = `--sql b9a61de0-642e-4e18-9d77-0d2c437bb399
update video_jobs
set attempt = $2::int,
    error_message = $3::text,
    updated_at = now()
where id = $1::text;
`

// QCompleteVideoJob only matches non-terminal rows, so concurrent duplicate
// callbacks race on the row lock and exactly one of them gets a row back.
const QCompleteVideoJob = `--sql b4a87870-5bd5-4324-b9ed-5c0c5bb1126b
update video_jobs
set status = $2::text,
    video_url = nullif($3::text, ''),
    thumbnail_url = nullif($4::text, ''),
    error_message = nullif($5::text, ''),
    provider_used = coalesce(provider_used, nullif($6::text, '')),
    updated_at = now()
where id = $1::text
  and status in ('pending', 'dispatched')
returning ` + videoJobColumns + `;
`
